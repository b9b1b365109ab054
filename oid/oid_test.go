package oid

import "testing"

func TestSPOrdering(t *testing.T) {
	var cases = []struct {
		a, b SP
		want bool
	}{
		{SP{1, 0, 0}, SP{2, 0, 0}, true},
		{SP{2, 0, 0}, SP{1, 0, 0}, false},
		{SP{1, 1, 0}, SP{1, 2, 0}, true},
		{SP{1, 1, 5}, SP{1, 1, 6}, true},
		{SP{1, 1, 6}, SP{1, 1, 5}, false},
		{Zero, SP{1, 0, 0}, true},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("SP(%v).Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestOIDHashPrefixStable(t *testing.T) {
	var o = OID("1.2.3:deadbeef:0:head")
	if o.HashPrefix() != o.HashPrefix() {
		t.Fatal("hash prefix must be deterministic")
	}
	if len(o.Digest160()) != 40 {
		t.Fatalf("expected 40 hex chars (160 bits), got %d", len(o.Digest160()))
	}
}
