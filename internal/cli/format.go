package cli

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vietddude/txwatch/internal/control"
	"github.com/vietddude/txwatch/internal/core/config"
	"github.com/vietddude/txwatch/internal/core/domain"
)

// formatAmount renders v in the network's native unit when decimals are configured.
func formatAmount(cfg *config.AppConfig, network domain.NetworkID, v *big.Int) string {
	if v == nil {
		return "-"
	}
	n, ok := cfg.Network(network)
	if !ok || n.Decimals == 0 {
		return v.String()
	}
	s := control.ScaleAmount(v, n.Decimals).String()
	if n.Unit != "" {
		s += " " + n.Unit
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatLatency(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

// parseMetadata turns key=value pairs into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func networkIDs(args []string) []domain.NetworkID {
	ids := make([]domain.NetworkID, len(args))
	for i, a := range args {
		ids[i] = domain.NetworkID(a)
	}
	return ids
}
