package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleSimilarityBoundaries(t *testing.T) {
	// 9 of 11 union tokens shared: 0.818.
	above := TitleSimilarity(
		"alpha bravo charlie delta echo foxtrot golf hotel india juliet",
		"alpha bravo charlie delta echo foxtrot golf hotel india kilo",
	)
	assert.InDelta(t, 9.0/11.0, above, 1e-9)

	// 8 of 10 union tokens shared: exactly 0.80.
	boundary := TitleSimilarity(
		"alpha bravo charlie delta echo foxtrot golf hotel india",
		"alpha bravo charlie delta echo foxtrot golf hotel kilo",
	)
	assert.InDelta(t, 0.80, boundary, 1e-9)

	// 8 of 12 union tokens shared: 0.667.
	below := TitleSimilarity(
		"alpha bravo charlie delta echo foxtrot golf hotel india juliet",
		"alpha bravo charlie delta echo foxtrot golf hotel kilo lima",
	)
	assert.InDelta(t, 8.0/12.0, below, 1e-9)
}

func TestTitleSimilarityIgnoresShortAndStopWords(t *testing.T) {
	similarity := TitleSimilarity(
		normalizeTitle("the api is slow"),
		normalizeTitle("an api so slow"),
	)
	// Only "api" and "slow" survive tokenization on both sides.
	assert.InDelta(t, 1.0, similarity, 1e-9)

	assert.Zero(t, TitleSimilarity("a an it", "on to of"))
}

func TestDeduplicateMergesAboveExclusiveThreshold(t *testing.T) {
	candidates := []Candidate{
		{ID: "c1", Title: "alpha bravo charlie delta echo foxtrot golf hotel india juliet",
			SourceIDs: []string{"c1"}, OccurrenceCount: 3},
		{ID: "c2", Title: "alpha bravo charlie delta echo foxtrot golf hotel india kilo",
			SourceIDs: []string{"c2"}, OccurrenceCount: 1},
	}

	kept, summary := deduplicate(candidates, 0.80)
	require.Len(t, kept, 1)
	assert.Equal(t, "c1", kept[0].ID, "the higher occurrence count wins the canonical slot")
	assert.Equal(t, 4, kept[0].OccurrenceCount)
	assert.ElementsMatch(t, []string{"c1", "c2"}, kept[0].SourceIDs)

	require.Len(t, summary.MergedGroups, 1)
	assert.Equal(t, "similar_title", summary.MergedGroups[0].MergeReason)
	assert.Equal(t, "c1", summary.MergedGroups[0].CanonicalID)
	assert.InDelta(t, 50.0, summary.ReductionPercentage, 1e-9)
}

func TestDeduplicateKeepsExactThresholdDistinct(t *testing.T) {
	// Similarity is exactly 0.80, which does not strictly exceed the
	// threshold, so both candidates survive.
	candidates := []Candidate{
		{ID: "c1", Title: "alpha bravo charlie delta echo foxtrot golf hotel india",
			SourceIDs: []string{"c1"}, OccurrenceCount: 1},
		{ID: "c2", Title: "alpha bravo charlie delta echo foxtrot golf hotel kilo",
			SourceIDs: []string{"c2"}, OccurrenceCount: 1},
	}

	kept, summary := deduplicate(candidates, 0.80)
	assert.Len(t, kept, 2)
	assert.Empty(t, summary.MergedGroups)
}

func TestDeduplicateMergesOnSharedErrorHash(t *testing.T) {
	candidates := []Candidate{
		{ID: "c1", Title: "timeout in checkout flow", SourceIDs: []string{"c1"},
			OccurrenceCount: 2, ErrorHash: "deadbeef"},
		{ID: "c2", Title: "completely unrelated wording here", SourceIDs: []string{"c2"},
			OccurrenceCount: 1, ErrorHash: "deadbeef"},
	}

	kept, summary := deduplicate(candidates, 0.80)
	require.Len(t, kept, 1)
	assert.Equal(t, 3, kept[0].OccurrenceCount)
	require.Len(t, summary.MergedGroups, 1)
	assert.Equal(t, "same_error_hash", summary.MergedGroups[0].MergeReason)
	assert.InDelta(t, 1.0, summary.MergedGroups[0].SimilarityScore, 1e-9)
}

func TestExtractThemeOrderedRules(t *testing.T) {
	cases := []struct {
		title    string
		category string
		theme    string
	}{
		{"Fix database migration ordering", "", "Database & Schema"},
		{"Tighten auth token checks", "", "Security & Auth"},
		{"Dashboard is slow to load", "", "Performance"},
		{"Add endpoint for exports", "", "API & Integration"},
		{"Improve test coverage", "", "Testing & Quality"},
		{"Update readme quickstart", "", "Documentation"},
		{"Unmatched title", "billing", "billing"},
		{"Unmatched title", "", "General"},
		// The first matching rule wins even when a later rule also matches.
		{"database auth cleanup", "", "Database & Schema"},
	}

	for _, tc := range cases {
		theme := ExtractTheme(Candidate{Title: tc.title, Category: tc.category})
		assert.Equal(t, tc.theme, theme, "title=%q category=%q", tc.title, tc.category)
	}
}

func TestClusterByThemeFiltersAndCaps(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Title: "database migration broken"},
		{ID: "b", Title: "schema drift detected"},
		{ID: "c", Title: "only one performance item"},
	}

	clusters := clusterByTheme(candidates, 2, 10)
	require.Len(t, clusters, 1)
	assert.Equal(t, "Database & Schema", clusters[0].Theme)
	assert.Equal(t, []string{"a", "b"}, clusters[0].CandidateIDs)
	assert.Equal(t, "2 related items in Database & Schema", clusters[0].Description)
}
