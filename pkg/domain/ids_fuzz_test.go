package domain

import (
	"strings"
	"testing"
)

// FuzzParseOwnerAddress checks that parsing never panics on arbitrary input
// and that accepted addresses round-trip through their canonical form.
func FuzzParseOwnerAddress(f *testing.F) {
	f.Add("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	f.Add("")
	f.Add("0x")
	f.Add("0x" + strings.Repeat("0", 40))
	f.Add("not-an-address")

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseOwnerAddress(input)
		if err != nil {
			return
		}
		reparsed, err2 := ParseOwnerAddress(addr.Canonical())
		if err2 != nil {
			t.Fatalf("canonical form of accepted address rejected: %q", addr.Canonical())
		}
		if reparsed.Canonical() != addr.Canonical() {
			t.Fatalf("canonical form unstable: %q vs %q", reparsed.Canonical(), addr.Canonical())
		}
	})
}

// FuzzParseRegistrationKey checks parser robustness for wire-supplied keys.
func FuzzParseRegistrationKey(f *testing.F) {
	f.Add(strings.Repeat("ab", 32))
	f.Add("")
	f.Add(strings.Repeat("zz", 32))

	f.Fuzz(func(t *testing.T, input string) {
		key, err := ParseRegistrationKey(input)
		if err != nil {
			return
		}
		if len(key.String()) != 64 {
			t.Fatalf("accepted key with bad length: %q", key)
		}
	})
}
