package pipeline

import "strings"

const (
	// similarityOverallWeight and similarityTailWeight blend whole-string and
	// tail-only agreement; the tail is weighted higher because it's where a
	// speculative transcript and the eventual commit are most likely to
	// diverge (the user finishing a thought changes the end, not the start).
	similarityOverallWeight = 0.4
	similarityTailWeight    = 0.6

	similarityTailWords = 8

	// simThreshold is the score at or above which two transcripts are
	// considered "the same" for the purpose of adopting a speculative
	// generation instead of discarding it.
	simThreshold = 0.90
)

// textSimilarity scores how alike two already-normalized transcripts are, in
// [0, 1], as a weighted blend of whole-string and tail-word agreement.
func textSimilarity(a, b string) float64 {
	overall := wordOverlapRatio(strings.Fields(a), strings.Fields(b))
	tail := wordOverlapRatio(tailWords(a, similarityTailWords), tailWords(b, similarityTailWords))
	return similarityOverallWeight*overall + similarityTailWeight*tail
}

// sameEnoughToAdopt reports whether a speculative transcript and the
// eventually-committed transcript are close enough that the speculative
// generation it produced can be kept instead of discarded and restarted.
func sameEnoughToAdopt(speculative, committed string) bool {
	return textSimilarity(speculative, committed) >= simThreshold
}

// wordOverlapRatio scores two token sequences by the size of their common
// multiset intersection over the longer sequence's length. Empty/empty
// compares equal; empty/non-empty compares as entirely dissimilar.
func wordOverlapRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	counts := make(map[string]int, len(a))
	for _, w := range a {
		counts[w]++
	}
	shared := 0
	for _, w := range b {
		if counts[w] > 0 {
			counts[w]--
			shared++
		}
	}

	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(shared) / float64(longer)
}

// tailWords returns the last n whitespace-delimited tokens of s.
func tailWords(s string, n int) []string {
	words := strings.Fields(s)
	if len(words) <= n {
		return words
	}
	return words[len(words)-n:]
}
