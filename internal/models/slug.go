package models

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonSlugRe    = regexp.MustCompile(`[^a-z0-9-]`)
)

// MedicationSlug derives the id used by sheet ingestion.
// The result may still contain characters outside [a-z0-9-].
func MedicationSlug(name string) MedicationID {
	s := strings.ToLower(name)
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = strings.ReplaceAll(s, "%", "pct")
	s = strings.ReplaceAll(s, "/", "-")
	return MedicationID(s)
}

// AdminMedicationSlug derives the id for medications created by admins
func AdminMedicationSlug(name string) MedicationID {
	return MedicationID(nonSlugRe.ReplaceAllString(string(MedicationSlug(name)), ""))
}

// PharmacySlug derives a pharmacy id from its display name
func PharmacySlug(name string) PharmacyID {
	s := strings.ToLower(strings.TrimSpace(name))
	s = whitespaceRe.ReplaceAllString(s, "-")
	return PharmacyID(nonSlugRe.ReplaceAllString(s, ""))
}

// FormSuffix turns a medication form into a slug suffix
func FormSuffix(form string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(form)), "-")
}
