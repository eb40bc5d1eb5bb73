package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// InvalidAttributeError reports a selected value the product does not offer.
type InvalidAttributeError struct {
	Title string
	Value string
}

func (e *InvalidAttributeError) Error() string {
	return fmt.Sprintf("attribute %q has no value %q", e.Title, e.Value)
}

// SelectedPairs turns a group-title -> value selection into pairs ordered
// like the product's attribute groups. Titles the product does not declare
// follow in alphabetical order; empty values are dropped.
func SelectedPairs(groups []models.AttributeGroup, selected map[string]string) []models.AttributePair {
	pairs := make([]models.AttributePair, 0, len(selected))
	seen := make(map[string]bool, len(groups))

	for _, g := range groups {
		seen[g.Title] = true
		if v := strings.TrimSpace(selected[g.Title]); v != "" {
			pairs = append(pairs, models.AttributePair{Title: g.Title, Value: v})
		}
	}

	extra := make([]string, 0)
	for title := range selected {
		if !seen[title] {
			extra = append(extra, title)
		}
	}
	sort.Strings(extra)
	for _, title := range extra {
		t, v := strings.TrimSpace(title), strings.TrimSpace(selected[title])
		if t != "" && v != "" {
			pairs = append(pairs, models.AttributePair{Title: t, Value: v})
		}
	}

	return pairs
}

// ValidateSelection checks every selected value against the values the
// product allows. Groups without a declared value list accept anything.
func ValidateSelection(groups []models.AttributeGroup, selected map[string]string) error {
	allowed := make(map[string][]string, len(groups))
	for _, g := range groups {
		allowed[g.Title] = g.Values
	}

	titles := make([]string, 0, len(selected))
	for title := range selected {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	for _, title := range titles {
		value := strings.TrimSpace(selected[title])
		if value == "" {
			continue
		}
		values, ok := allowed[title]
		if !ok || len(values) == 0 {
			continue
		}
		if !contains(values, value) {
			return &InvalidAttributeError{Title: title, Value: value}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if strings.TrimSpace(candidate) == v {
			return true
		}
	}
	return false
}
