// Package inventory parses bundle SKU strings and turns them into per-product
// stock movements.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrEmptySKU = errors.New("bundle sku is empty")

// Line is one product inside a bundle: "VTR-2" means two units of VTR.
type Line struct {
	SKU string
	Qty int
}

func (l Line) String() string {
	return l.SKU + "-" + strconv.Itoa(l.Qty)
}

// ParseBundleSKU parses "SKU-qty + SKU-qty". A token without a numeric suffix
// counts as one unit of the whole token. Repeated SKUs are merged and the
// result keeps first-seen order.
func ParseBundleSKU(raw string) ([]Line, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptySKU
	}

	index := make(map[string]int)
	lines := make([]Line, 0, 4)
	for _, token := range strings.Split(raw, "+") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		sku, qty, err := splitToken(token)
		if err != nil {
			return nil, err
		}
		key := strings.ToUpper(sku)
		if pos, ok := index[key]; ok {
			lines[pos].Qty += qty
			continue
		}
		index[key] = len(lines)
		lines = append(lines, Line{SKU: sku, Qty: qty})
	}

	if len(lines) == 0 {
		return nil, ErrEmptySKU
	}
	return lines, nil
}

func splitToken(token string) (string, int, error) {
	cut := strings.LastIndex(token, "-")
	if cut <= 0 || cut == len(token)-1 {
		return token, 1, nil
	}

	suffix := strings.TrimSpace(token[cut+1:])
	qty, err := strconv.Atoi(suffix)
	if err != nil {
		// "ABC-XL" is a SKU, not a quantity
		return token, 1, nil
	}
	if qty <= 0 {
		return "", 0, fmt.Errorf("invalid quantity %d for sku %q", qty, token[:cut])
	}
	sku := strings.TrimSpace(token[:cut])
	if strings.HasSuffix(sku, "-") {
		return "", 0, fmt.Errorf("invalid quantity in %q", token)
	}
	return sku, qty, nil
}

// FormatBundleSKU renders lines in canonical "SKU-qty + SKU-qty" form.
func FormatBundleSKU(lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.String())
	}
	return strings.Join(parts, " + ")
}

// Plan multiplies every line by the number of bundles ordered.
func Plan(lines []Line, multiplier int) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{SKU: l.SKU, Qty: l.Qty * multiplier})
	}
	return out
}

// Units is the total product unit count in lines.
func Units(lines []Line) int {
	total := 0
	for _, l := range lines {
		total += l.Qty
	}
	return total
}

func SKUs(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.SKU)
	}
	sort.Strings(out)
	return out
}
