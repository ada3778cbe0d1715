// Package encoding implements the encoding gate: Unicode normalization plus
// deterministic mojibake detection, repair, and fail-fast scoring ahead of
// the intent router.
package encoding

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// Config holds the tunable thresholds from the ENCODING_* environment variables.
type Config struct {
	RepairScoreMin    float64
	FailFastScoreMin  float64
	RepairMinDelta    float64
	NormalizationForm string // "NFC" (default) or "NFD"
}

// DefaultConfig returns the documented defaults. Exact thresholds beyond
// Vietnamese-style diacritic scripts are left open per design notes; these
// are the tuned starting points.
func DefaultConfig() Config {
	return Config{
		RepairScoreMin:    0.15,
		FailFastScoreMin:  0.55,
		RepairMinDelta:    0.05,
		NormalizationForm: "NFC",
	}
}

// mojibakeArtifacts are byte sequences characteristic of a Windows-1252 (or
// similar single-byte) re-encoding of UTF-8 text in a diacritic-heavy script
// such as Vietnamese. Each occurrence contributes to the score.
var mojibakeArtifacts = []rune{
	'\u00C3', '\u00E2', '\u0083', '\u0080', '\u0099', '\u2019', '\uFFFD',
}

// Score computes a deterministic mojibake-likelihood score in [0,1] by
// counting characteristic artifact runes relative to total rune count.
func Score(s string) float64 {
	if s == "" {
		return 0
	}
	total := 0
	hits := 0
	for _, r := range s {
		total++
		for _, a := range mojibakeArtifacts {
			if r == a {
				hits++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Gate runs the encoding gate over a raw prompt.
func Gate(raw string, cfg Config) models.EncodingReport {
	score := Score(raw)

	if score < cfg.RepairScoreMin {
		return models.EncodingReport{
			NormalizedPrompt: normalize(raw, cfg),
			Decision:         models.EncodingPass,
			Score:            score,
		}
	}

	if score >= cfg.FailFastScoreMin {
		return models.EncodingReport{
			NormalizedPrompt: raw,
			Decision:         models.EncodingFailFast,
			Score:            score,
		}
	}

	candidate, candidateScore, ok := repair(raw)
	if ok && (score-candidateScore) >= cfg.RepairMinDelta {
		return models.EncodingReport{
			NormalizedPrompt: normalize(candidate, cfg),
			Decision:         models.EncodingRepaired,
			Score:            candidateScore,
			RepairDelta:      score - candidateScore,
		}
	}

	// Repair did not help enough; treat as pass-through if below fail-fast,
	// since the fail-fast branch above already handled the severe case.
	return models.EncodingReport{
		NormalizedPrompt: normalize(raw, cfg),
		Decision:         models.EncodingPass,
		Score:            score,
	}
}

// repair attempts to re-decode raw as if it had been mis-encoded through
// Windows-1252, then as UTF-8 again, scoring the candidate. Returns the best
// candidate and whether any repair decoding succeeded.
func repair(raw string) (string, float64, bool) {
	best := raw
	bestScore := Score(raw)
	found := false

	if candidate, err := roundTrip(raw, charmap.Windows1252); err == nil && candidate != raw {
		if s := Score(candidate); s < bestScore {
			best, bestScore, found = candidate, s, true
		}
	}
	if candidate, err := roundTrip(raw, unicode.UTF8); err == nil && candidate != raw {
		if s := Score(candidate); s < bestScore {
			best, bestScore, found = candidate, s, true
		}
	}
	return best, bestScore, found
}

func roundTrip(s string, enc encoding.Encoding) (string, error) {
	encoded, err := enc.NewEncoder().String(s)
	if err != nil {
		return "", err
	}
	decoded, err := unicode.UTF8.NewDecoder().String(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

func normalize(s string, cfg Config) string {
	form := norm.NFC
	if cfg.NormalizationForm == "NFD" {
		form = norm.NFD
	}
	return form.String(s)
}
