package inventory

import (
	"testing"
)

func TestParseBundleSKU(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected []Line
	}{
		{
			name:     "single product",
			raw:      "VTR-2",
			expected: []Line{{SKU: "VTR", Qty: 2}},
		},
		{
			name:     "bundle with spaces",
			raw:      " VTR-2 +  SRM-1 ",
			expected: []Line{{SKU: "VTR", Qty: 2}, {SKU: "SRM", Qty: 1}},
		},
		{
			name:     "no quantity suffix",
			raw:      "SOAP",
			expected: []Line{{SKU: "SOAP", Qty: 1}},
		},
		{
			name:     "hyphenated sku without quantity",
			raw:      "TEE-XL + CAP-BLK-3",
			expected: []Line{{SKU: "TEE-XL", Qty: 1}, {SKU: "CAP-BLK", Qty: 3}},
		},
		{
			name:     "duplicates merge case-insensitively",
			raw:      "VTR-2 + srm-1 + vtr-3",
			expected: []Line{{SKU: "VTR", Qty: 5}, {SKU: "srm", Qty: 1}},
		},
		{
			name:     "empty tokens ignored",
			raw:      "VTR-1 + + SRM-2",
			expected: []Line{{SKU: "VTR", Qty: 1}, {SKU: "SRM", Qty: 2}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBundleSKU(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Fatalf("line %d: expected %v, got %v", i, tc.expected[i], got[i])
				}
			}
		})
	}
}

func TestParseBundleSKUErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", " + ", "VTR-0", "VTR-2 + SRM--1"} {
		if _, err := ParseBundleSKU(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPlanAndFormat(t *testing.T) {
	lines, err := ParseBundleSKU("VTR-2 + SRM-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	plan := Plan(lines, 3)
	if FormatBundleSKU(plan) != "VTR-6 + SRM-3" {
		t.Fatalf("unexpected plan %s", FormatBundleSKU(plan))
	}
	if Units(plan) != 9 {
		t.Fatalf("expected 9 units, got %d", Units(plan))
	}
	if FormatBundleSKU(lines) != "VTR-2 + SRM-1" {
		t.Fatalf("plan must not mutate its input")
	}
	skus := SKUs(plan)
	if skus[0] != "SRM" || skus[1] != "VTR" {
		t.Fatalf("expected sorted skus, got %v", skus)
	}
}
