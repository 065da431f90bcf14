package keys

import (
	"strings"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	a := Derive(NSProperty, "marketplace:m", "lot-1")
	b := Derive(NSProperty, "marketplace:m", "lot-1")
	if a != b {
		t.Fatalf("derivation not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, NSProperty+":") {
		t.Fatalf("missing namespace prefix: %s", a)
	}
}

func TestDeriveDistinguishesParts(t *testing.T) {
	// Length prefixing keeps concatenation ambiguity out of the hash.
	a := Derive(NSOffer, "ab", "c")
	b := Derive(NSOffer, "a", "bc")
	if a == b {
		t.Fatalf("parts collide: %s", a)
	}
	if Derive(NSOffer, "x") == Derive(NSEscrow, "x") {
		t.Fatal("namespaces collide")
	}
}

func TestHelpers(t *testing.T) {
	m := Marketplace("authority")
	p := Property(m, "lot-1")
	if Offer(p, "buyer") == Escrow(p, "buyer") {
		t.Fatal("offer and escrow keys must differ")
	}
	if Transaction(p, 1) == Transaction(p, 2) {
		t.Fatal("transaction keys must differ per index")
	}
	if Mint(p) != Mint(p) {
		t.Fatal("mint key not deterministic")
	}
}
