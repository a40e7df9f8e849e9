package dln

import (
	"math/big"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tt := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{raw: "1000000", decimals: 6, want: "1"},
		{raw: "1500000", decimals: 6, want: "1.5"},
		{raw: "999995000", decimals: 9, want: "0.999995"},
		{raw: "1", decimals: 9, want: "0.000000001"},
		{raw: "0", decimals: 6, want: "0"},
		{raw: "12345", decimals: 0, want: "12345"},
		{raw: "340282366920938463463374607431768211455", decimals: 18, want: "340282366920938463463.374607431768211455"},
	}

	for _, tc := range tt {
		raw, ok := new(big.Int).SetString(tc.raw, 10)
		if !ok {
			t.Fatalf("bad fixture %s", tc.raw)
		}
		if got := FormatAmount(raw, tc.decimals); got != tc.want {
			t.Fatalf("FormatAmount(%s, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.want)
		}
	}

	if got := FormatAmount(nil, 6); got != "0" {
		t.Fatalf("nil amount = %s", got)
	}
}
