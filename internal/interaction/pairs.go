package interaction

import (
	"fmt"

	apperrors "github.com/pilltrail/pilltrail/internal/errors"
)

// PairEntry declares one curated known interaction pair.
type PairEntry struct {
	Drug1       string
	Drug2       string
	Severity    Severity
	Description string
}

// KnownPairs is a validated table of curated interaction pairs,
// indexed by unordered case-insensitive pair key.
type KnownPairs struct {
	byKey map[string]Interaction
}

// NewKnownPairs builds and validates a pairs table. Validation fails
// when the same unordered pair appears twice with conflicting severity
// or description: a table that disagrees with itself cannot be trusted
// to grade anything.
func NewKnownPairs(entries []PairEntry) (*KnownPairs, error) {
	byKey := make(map[string]Interaction, len(entries))
	for _, e := range entries {
		if e.Drug1 == "" || e.Drug2 == "" {
			return nil, apperrors.New("INTERACT_003",
				fmt.Sprintf("pair with empty drug name: %q / %q", e.Drug1, e.Drug2))
		}
		if _, ok := severityRank[e.Severity]; !ok {
			return nil, apperrors.New("INTERACT_003",
				fmt.Sprintf("pair %s/%s has unknown severity %q", e.Drug1, e.Drug2, e.Severity))
		}
		key := pairKey(e.Drug1, e.Drug2)
		entry := Interaction{
			Drug1:       e.Drug1,
			Drug2:       e.Drug2,
			Severity:    e.Severity,
			Description: e.Description,
			Source:      "known-pairs",
		}
		if existing, ok := byKey[key]; ok {
			if existing.Severity != entry.Severity || existing.Description != entry.Description {
				return nil, apperrors.New("INTERACT_003",
					fmt.Sprintf("conflicting entries for pair %s/%s", e.Drug1, e.Drug2))
			}
			continue
		}
		byKey[key] = entry
	}
	return &KnownPairs{byKey: byKey}, nil
}

// DefaultKnownPairs returns the built-in curated table.
func DefaultKnownPairs() (*KnownPairs, error) {
	return NewKnownPairs(defaultPairEntries)
}

// Lookup returns the known interaction for an unordered drug pair.
func (p *KnownPairs) Lookup(a, b string) (Interaction, bool) {
	entry, ok := p.byKey[pairKey(a, b)]
	return entry, ok
}

// Len reports the number of distinct pairs in the table.
func (p *KnownPairs) Len() int {
	return len(p.byKey)
}

var defaultPairEntries = []PairEntry{
	{"Warfarin", "Aspirin", SeverityMajor, "Combined anticoagulant and antiplatelet effect greatly increases bleeding risk."},
	{"Warfarin", "Ibuprofen", SeverityMajor, "NSAIDs raise bleeding risk and can displace warfarin from plasma proteins."},
	{"Warfarin", "Fluconazole", SeverityMajor, "Fluconazole inhibits warfarin metabolism; INR can rise sharply."},
	{"Warfarin", "Amiodarone", SeverityMajor, "Amiodarone potentiates warfarin; dose reduction is usually required."},
	{"Warfarin", "Acetaminophen", SeverityModerate, "Sustained acetaminophen use can elevate INR; monitor with regular use."},
	{"Lisinopril", "Potassium", SeverityModerate, "ACE inhibitors with potassium supplements can cause hyperkalemia."},
	{"Lisinopril", "Spironolactone", SeverityModerate, "ACE inhibitor plus potassium-sparing diuretic risks hyperkalemia."},
	{"Lisinopril", "Ibuprofen", SeverityModerate, "NSAIDs blunt the antihypertensive effect and stress renal function."},
	{"Simvastatin", "Amiodarone", SeverityMajor, "Amiodarone raises simvastatin levels; myopathy and rhabdomyolysis risk."},
	{"Simvastatin", "Clarithromycin", SeverityMajor, "CYP3A4 inhibition sharply raises statin exposure."},
	{"Simvastatin", "Grapefruit", SeverityModerate, "Grapefruit inhibits intestinal CYP3A4 and raises statin levels."},
	{"Metformin", "Contrast Dye", SeverityMajor, "Iodinated contrast with metformin risks lactic acidosis in renal impairment."},
	{"Metformin", "Alcohol", SeverityModerate, "Alcohol potentiates the lactic acidosis risk of metformin."},
	{"Digoxin", "Amiodarone", SeverityMajor, "Amiodarone raises digoxin levels; toxicity risk without dose adjustment."},
	{"Digoxin", "Furosemide", SeverityModerate, "Diuretic-induced hypokalemia sensitizes the heart to digoxin toxicity."},
	{"Sertraline", "Tramadol", SeverityMajor, "Combined serotonergic activity risks serotonin syndrome."},
	{"Sertraline", "Ibuprofen", SeverityModerate, "SSRIs with NSAIDs increase gastrointestinal bleeding risk."},
	{"Levothyroxine", "Calcium", SeverityMinor, "Calcium binds levothyroxine in the gut; separate doses by several hours."},
	{"Levothyroxine", "Omeprazole", SeverityMinor, "Reduced gastric acidity lowers levothyroxine absorption."},
	{"Ciprofloxacin", "Antacid", SeverityModerate, "Polyvalent cations chelate fluoroquinolones and block absorption."},
}
