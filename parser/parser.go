package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// ValidateRecord ensures the extractor produced a record that can be stored.
func ValidateRecord(r *models.SpecRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record missing url")
	}
	if len(r.Fields()) == 0 {
		return fmt.Errorf("record for %s has no fields", r.URL)
	}
	return nil
}

// NormalizeText collapses runs of whitespace, including non-breaking spaces,
// into single spaces and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SpecKey composes the field name for a category/label pair, e.g.
// "Battery - Type".
func SpecKey(category, label string) string {
	return NormalizeText(category) + " - " + NormalizeText(label)
}
