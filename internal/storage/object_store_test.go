package storage

import "testing"

func TestWaybillKey(t *testing.T) {
	if got := WaybillKey(" nvmydms123 "); got != "waybills/NVMYDMS123.pdf" {
		t.Fatalf("WaybillKey = %q", got)
	}
}

func TestPublicURL(t *testing.T) {
	s := &ObjectStore{publicBase: "https://cdn.example.com"}
	if got := s.PublicURL("/waybills/A.pdf"); got != "https://cdn.example.com/waybills/A.pdf" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestParseStorageClass(t *testing.T) {
	if parseStorageClass("  ") != nil {
		t.Fatal("blank storage class should be nil")
	}
	if sc := parseStorageClass("standard"); sc == nil || string(*sc) != "STANDARD" {
		t.Fatalf("parseStorageClass = %v", sc)
	}
}
