package planner

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/avelai/feedback-pipeline/internal/domain"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)

// stopwords are excluded from similarity tokens so that filler words do not
// inflate the match between unrelated titles.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "are": {}, "was": {}, "not": {}, "but": {}, "all": {},
	"can": {}, "has": {}, "have": {}, "when": {}, "into": {}, "its": {},
}

// normalizeTitle lowercases, strips punctuation and collapses whitespace.
func normalizeTitle(title string) string {
	lowered := strings.ToLower(title)
	stripped := nonAlphanumeric.ReplaceAllString(lowered, "")
	return strings.Join(strings.Fields(stripped), " ")
}

func tokenize(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, word := range strings.Fields(normalized) {
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		tokens[word] = struct{}{}
	}
	return tokens
}

// TitleSimilarity computes Jaccard similarity over the significant tokens
// of two normalized titles. Either side empty yields zero.
func TitleSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	intersection := 0
	for token := range tokensA {
		if _, ok := tokensB[token]; ok {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	return float64(intersection) / float64(union)
}

// deduplicate merges near-duplicate candidates. Candidates are processed by
// occurrence count descending so the most significant one becomes canonical;
// a merge happens when title similarity strictly exceeds the threshold or
// when both candidates carry the same non-empty error hash. Merging sums
// occurrence counts and unions source ids.
func deduplicate(candidates []Candidate, threshold float64) ([]Candidate, domain.DedupSummary) {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurrenceCount > sorted[j].OccurrenceCount
	})

	type canonical struct {
		titleKey string
		index    int
	}

	kept := make([]Candidate, 0, len(sorted))
	seen := make([]canonical, 0, len(sorted))
	mergeGroups := make([]domain.MergeGroup, 0)

	for _, candidate := range sorted {
		titleKey := normalizeTitle(candidate.Title)

		merged := false
		for _, existing := range seen {
			target := &kept[existing.index]

			similarity := TitleSimilarity(titleKey, existing.titleKey)
			if similarity > threshold {
				target.SourceIDs = append(target.SourceIDs, candidate.SourceIDs...)
				target.OccurrenceCount += candidate.OccurrenceCount
				mergeGroups = append(mergeGroups, domain.MergeGroup{
					CanonicalID:     target.ID,
					MergedIDs:       []string{candidate.ID},
					MergeReason:     "similar_title",
					SimilarityScore: similarity,
				})
				merged = true
				break
			}

			if candidate.ErrorHash != "" && candidate.ErrorHash == target.ErrorHash {
				target.SourceIDs = append(target.SourceIDs, candidate.SourceIDs...)
				target.OccurrenceCount += candidate.OccurrenceCount
				mergeGroups = append(mergeGroups, domain.MergeGroup{
					CanonicalID:     target.ID,
					MergedIDs:       []string{candidate.ID},
					MergeReason:     "same_error_hash",
					SimilarityScore: 1.0,
				})
				merged = true
				break
			}
		}

		if !merged {
			kept = append(kept, candidate)
			seen = append(seen, canonical{titleKey: titleKey, index: len(kept) - 1})
		}
	}

	reduction := 0.0
	if len(candidates) > 0 {
		reduction = float64(len(candidates)-len(kept)) / float64(len(candidates)) * 100
	}

	return kept, domain.DedupSummary{
		TotalInput:          len(candidates),
		TotalOutput:         len(kept),
		MergedGroups:        mergeGroups,
		ReductionPercentage: round1(reduction),
	}
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
