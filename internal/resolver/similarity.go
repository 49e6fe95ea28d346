package resolver

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/marketscope/dispatch/internal/refdata"
)

// similarity scores two strings on a 0-100 scale from their levenshtein
// distance, normalized by the longer string. Comparison is case-insensitive.
func similarity(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	score := 100 - levenshtein.ComputeDistance(a, b)*100/longer
	if score < 0 {
		return 0
	}
	return score
}

// nameSimilarity scores a token against an instrument name. Listed names
// often carry corporate suffixes ("Apple Inc."), so the token is scored
// against the whole name and against each word of it, taking the best.
func nameSimilarity(token, name string) int {
	best := similarity(token, name)
	for _, word := range strings.Fields(name) {
		if s := similarity(token, word); s > best {
			best = s
		}
	}
	return best
}

// bestNameMatch scans the reference set and returns the canonical id of
// the highest-scoring primary/alternate name at or above the threshold.
// Ties keep the earlier entry so repeated calls on the same snapshot are
// deterministic.
func bestNameMatch(entries []refdata.Entry, token string, threshold int) (string, bool) {
	bestID := ""
	bestScore := 0
	for _, e := range entries {
		score := nameSimilarity(token, e.PrimaryName)
		if s := nameSimilarity(token, e.AlternateName); s > score {
			score = s
		}
		if score > bestScore {
			bestScore = score
			bestID = e.CanonicalID
		}
	}
	if bestScore >= threshold && bestID != "" {
		return bestID, true
	}
	return "", false
}
