package planner

import (
	"fmt"
	"strings"

	"github.com/avelai/feedback-pipeline/internal/domain"
	"github.com/google/uuid"
)

// themeRule maps title keywords or a category to a named theme. Rules are
// evaluated in order; the first match wins.
type themeRule struct {
	theme    string
	keywords []string
	category string
}

var themeRules = []themeRule{
	{theme: "Database & Schema", keywords: []string{"database", "migration", "schema"}, category: "database"},
	{theme: "Security & Auth", keywords: []string{"auth", "security", "permission"}, category: "security"},
	{theme: "Performance", keywords: []string{"performance", "slow", "optimize"}, category: "performance"},
	{theme: "UI/UX", keywords: []string{"ui", "ux", "component", "design"}, category: "ui"},
	{theme: "API & Integration", keywords: []string{"api", "endpoint", "route"}, category: "api"},
	{theme: "Testing & Quality", keywords: []string{"test", "coverage", "spec"}, category: "testing"},
	{theme: "Documentation", keywords: []string{"doc", "readme"}, category: "documentation"},
	{theme: "Protocol & Workflow", keywords: []string{"protocol", "workflow"}},
}

// ExtractTheme assigns a candidate to exactly one theme. Candidates that
// match no rule fall back to their raw category, then to "General".
func ExtractTheme(candidate Candidate) string {
	title := strings.ToLower(candidate.Title)
	category := strings.ToLower(candidate.Category)

	for _, rule := range themeRules {
		if rule.category != "" && category == rule.category {
			return rule.theme
		}
		for _, keyword := range rule.keywords {
			if strings.Contains(title, keyword) {
				return rule.theme
			}
		}
	}

	if category != "" && category != "general" {
		return candidate.Category
	}
	return "General"
}

// clusterByTheme groups candidates by theme, drops clusters below the
// minimum size and caps the total, preserving first-seen theme order.
func clusterByTheme(candidates []Candidate, minSize, maxClusters int) []domain.ThemeCluster {
	order := make([]string, 0)
	byTheme := make(map[string][]string)

	for _, candidate := range candidates {
		theme := ExtractTheme(candidate)
		if _, ok := byTheme[theme]; !ok {
			order = append(order, theme)
		}
		byTheme[theme] = append(byTheme[theme], candidate.ID)
	}

	clusters := make([]domain.ThemeCluster, 0, len(order))
	for _, theme := range order {
		ids := byTheme[theme]
		if len(ids) < minSize {
			continue
		}
		clusters = append(clusters, domain.ThemeCluster{
			ID:           "cluster-" + uuid.NewString()[:8],
			Theme:        theme,
			Description:  fmt.Sprintf("%d related items in %s", len(ids), theme),
			CandidateIDs: ids,
		})
		if len(clusters) == maxClusters {
			break
		}
	}
	return clusters
}
