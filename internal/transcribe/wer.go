package transcribe

import (
	"fmt"
	"strings"
	"unicode"
)

// WERResult is a word error rate with its edit breakdown.
type WERResult struct {
	WER           float64 // (S + I + D) / RefWords; 0 is perfect and it can exceed 1
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

func (r WERResult) String() string {
	return fmt.Sprintf("WER %.2f%% (S=%d I=%d D=%d, N=%d)",
		r.WER*100, r.Substitutions, r.Insertions, r.Deletions, r.RefWords)
}

// ComputeWER aligns hypothesis against reference after lowercasing and
// stripping punctuation, and counts the edits of a minimum-cost alignment.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := werTokens(reference)
	hyp := werTokens(hypothesis)
	if len(ref) == 0 {
		return WERResult{}
	}

	// cost[i][j] is the edit distance between ref[:i] and hyp[:j].
	cost := make([][]int, len(ref)+1)
	for i := range cost {
		cost[i] = make([]int, len(hyp)+1)
		cost[i][0] = i
	}
	for j := range cost[0] {
		cost[0][j] = j
	}
	for i := 1; i <= len(ref); i++ {
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cost[i][j] = cost[i-1][j-1]
				continue
			}
			cost[i][j] = 1 + min(cost[i-1][j-1], cost[i-1][j], cost[i][j-1])
		}
	}

	res := WERResult{RefWords: len(ref)}
	for i, j := len(ref), len(hyp); i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i, j = i-1, j-1
		case i > 0 && j > 0 && cost[i][j] == cost[i-1][j-1]+1:
			res.Substitutions++
			i, j = i-1, j-1
		case i > 0 && cost[i][j] == cost[i-1][j]+1:
			res.Deletions++
			i--
		default:
			res.Insertions++
			j--
		}
	}
	res.WER = float64(res.Substitutions+res.Insertions+res.Deletions) / float64(res.RefWords)
	return res
}

// CorpusWER pools edits over several reference/hypothesis pairs, weighting
// each pair by its reference length.
func CorpusWER(pairs [][2]string) WERResult {
	var total WERResult
	for _, p := range pairs {
		r := ComputeWER(p[0], p[1])
		total.Substitutions += r.Substitutions
		total.Insertions += r.Insertions
		total.Deletions += r.Deletions
		total.RefWords += r.RefWords
	}
	if total.RefWords > 0 {
		total.WER = float64(total.Substitutions+total.Insertions+total.Deletions) / float64(total.RefWords)
	}
	return total
}

func werTokens(s string) []string {
	return strings.Fields(strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s))
}
