package ingest

import "strings"

// Mapping places a sheet condition in the category tree
type Mapping struct {
	CategoryID      string
	CategoryName    string
	SubcategoryID   string
	SubcategoryName string
}

var (
	weightLoss = Mapping{"weight-loss", "Weight Loss", "weight-loss-medications", "Weight Loss Medications"}
	hairLoss   = Mapping{"mens-health", "Men's Health", "hair-loss", "Hair Loss"}
	erectile   = Mapping{"mens-health", "Men's Health", "ed", "Erectile Dysfunction"}
	otherContr = Mapping{"womens-health", "Women's Health", "other-contraceptives", "Other Contraceptives"}
)

// conditionMappings is keyed by the condition cell exactly as it appears in the sheets,
// misspellings included.
var conditionMappings = map[string]Mapping{
	"WEIGHT LOSS":           weightLoss,
	"HAIR LOSS":             hairLoss,
	"Hair Loss":             hairLoss,
	"Erectyle Dysfunction":  erectile,
	"Erectile Dysfunction":  erectile,
	"Premature Ejaculation": {"mens-health", "Men's Health", "premature-ejaculation", "Premature Ejaculation"},
	"Oral Contraceptives":   {"womens-health", "Women's Health", "oral-contraceptives", "Oral Contraceptives"},
	"Contraceptives":        otherContr,
	"Contraceptive Patches": otherContr,
	"Morning After Pill":    {"womens-health", "Women's Health", "morning-after-pill", "Morning After Pill"},
	"Period Delay":          {"womens-health", "Women's Health", "period-delay", "Period Delay"},
	"Cystitis":              {"womens-health", "Women's Health", "cystitis", "Cystitis Treatment"},
	"Acne":                  {"skin-treatment", "Acne & Skin Treatment", "acne", "Acne Treatment"},
	"Eczema & Dermatitis":   {"skin-treatment", "Acne & Skin Treatment", "eczema-dermatitis", "Eczema & Dermatitis"},
	"Psoriasis":             {"skin-treatment", "Acne & Skin Treatment", "psoriasis", "Psoriasis"},
	"Rosacea":               {"skin-treatment", "Acne & Skin Treatment", "rosacea", "Rosacea"},
	"Impetigo":              {"skin-treatment", "Acne & Skin Treatment", "impetigo", "Impetigo"},
	"Migraine":              {"general-health", "General Health", "migraine", "Migraine Treatment"},
}

// LookupCondition finds the mapping for a condition cell. An exact match wins,
// otherwise the comparison ignores case.
func LookupCondition(condition string) (Mapping, bool) {
	if m, ok := conditionMappings[condition]; ok {
		return m, true
	}
	for k, m := range conditionMappings {
		if strings.EqualFold(k, condition) {
			return m, true
		}
	}
	return Mapping{}, false
}
