package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

type (
	// CentralityParams is the validated parameter envelope for the batched
	// centrality query. Out-of-range values clamp; zero values take the
	// fixed defaults.
	CentralityParams struct {
		TopN           int     `json:"top_n"`
		Damping        float64 `json:"damping"`
		MaxIter        int     `json:"max_iter"`
		MinBetweenness float64 `json:"min_betweenness"`
		MinInDegree    int     `json:"min_in_degree"`
	}
)

// Clamp returns the envelope with every field forced into its valid range.
func (p CentralityParams) Clamp() CentralityParams {
	if p.TopN == 0 {
		p.TopN = 20
	}
	p.TopN = clampInt(p.TopN, 1, 1000)
	if p.Damping == 0 {
		p.Damping = 0.85
	}
	p.Damping = clampFloat(p.Damping, 0.01, 0.99)
	if p.MaxIter == 0 {
		p.MaxIter = 20
	}
	p.MaxIter = clampInt(p.MaxIter, 1, 1000)
	p.MinBetweenness = clampFloat(p.MinBetweenness, 0, 1)
	if p.MinInDegree < 1 {
		p.MinInDegree = 2
	}
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// paramDigest hashes a parameter map into a stable cache key: keys sorted,
// floats normalized to six decimal places so equal values digest equally
// regardless of formatting.
func paramDigest(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		switch v := params[k].(type) {
		case float64:
			fmt.Fprintf(&sb, "%.6f", v)
		case []string:
			sb.WriteString(strings.Join(v, ","))
		default:
			fmt.Fprintf(&sb, "%v", v)
		}
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
