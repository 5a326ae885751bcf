package web3

import (
	"math/big"
	"testing"
)

func TestParseAndFormatUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
		back string
	}{
		{in: "10", want: "10000000000000000000", back: "10"},
		{in: "0.5", want: "500000000000000000", back: "0.5"},
		{in: "11.25", want: "11250000000000000000", back: "11.25"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, TokenDecimals)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parse %s: got %s want %s", tc.in, got, tc.want)
		}
		if back := FormatUnits(got, TokenDecimals); back != tc.back {
			t.Fatalf("format %s: got %s want %s", got, back, tc.back)
		}
	}
}

func TestParseUnitsRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		if _, err := ParseUnits(in, TokenDecimals); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	if FormatUnits(nil, TokenDecimals) != "0" {
		t.Fatal("nil should format as 0")
	}
	if FormatUnits(big.NewInt(0), TokenDecimals) != "0" {
		t.Fatal("zero should format as 0")
	}
}
