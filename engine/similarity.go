package engine

import (
	"strings"
	"unicode"

	"order-monitor/models"
)

const (
	exactScore       = 1.0
	containmentScore = 0.8
)

// NameSimilarity scores two display names in [0,1]: 1.0 when they normalize
// to the same string, 0.8 when one contains the other, otherwise the Jaccard
// overlap of their letter sets.
func NameSimilarity(a, b string) float64 {
	na, nb := models.NormalizeName(a), models.NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return exactScore
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return containmentScore
	}
	return jaccard(runeSet(na), runeSet(nb))
}

func runeSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

func jaccard(a, b map[rune]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for r := range a {
		if _, ok := b[r]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
