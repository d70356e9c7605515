package cli

import (
	"math/big"
	"testing"

	"github.com/vietddude/txwatch/internal/core/config"
)

func TestFormatAmount(t *testing.T) {
	cfg := &config.AppConfig{Networks: []config.NetworkConfig{
		{ID: "ethereum", Decimals: 18, Unit: "ETH"},
		{ID: "raw"},
	}}
	wei, _ := new(big.Int).SetString("21000000000000000", 10)

	tests := []struct {
		name    string
		network string
		v       *big.Int
		want    string
	}{
		{"scaled with unit", "ethereum", wei, "0.021 ETH"},
		{"no decimals", "raw", big.NewInt(42), "42"},
		{"unknown network", "solana", big.NewInt(7), "7"},
		{"nil", "ethereum", nil, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAmount(cfg, networkIDs([]string{tt.network})[0], tt.v); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	m, err := parseMetadata([]string{"wallet=hot", "note=a=b"})
	if err != nil {
		t.Fatalf("parseMetadata: %v", err)
	}
	if m["wallet"] != "hot" || m["note"] != "a=b" {
		t.Errorf("metadata = %v", m)
	}

	if _, err := parseMetadata([]string{"novalue"}); err == nil {
		t.Error("expected error for missing '='")
	}
	if m, err := parseMetadata(nil); err != nil || m != nil {
		t.Errorf("empty input = %v, %v", m, err)
	}
}
