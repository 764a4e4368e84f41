package interaction

import (
	"context"
	"sort"
	"strings"
)

// Severity grades an interaction.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

var severityRank = map[Severity]int{
	SeverityMinor:    1,
	SeverityModerate: 2,
	SeverityMajor:    3,
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b Severity) bool {
	return severityRank[a] > severityRank[b]
}

// Interaction is one drug-drug interaction. It is symmetric: the
// unordered, case-insensitive {Drug1, Drug2} pair identifies it.
type Interaction struct {
	Drug1       string   `json:"drug1"`
	Drug2       string   `json:"drug2"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Source      string   `json:"source"` // "known-pairs" or "lookup"
}

// Key returns the canonical unordered pair key.
func (i Interaction) Key() string {
	return pairKey(i.Drug1, i.Drug2)
}

// Involves reports whether the interaction touches the given drug.
func (i Interaction) Involves(name string) bool {
	n := normalizeName(name)
	return normalizeName(i.Drug1) == n || normalizeName(i.Drug2) == n
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func pairKey(a, b string) string {
	names := []string{normalizeName(a), normalizeName(b)}
	sort.Strings(names)
	return names[0] + "|" + names[1]
}

// Relation types returned by the drug classification lookup.
const (
	RelationMayTreat       = "may_treat" // use / indication
	RelationSideEffect     = "has_pe"    // physiological effect
	RelationContraindicate = "ci_with"   // contraindication / interaction
)

// ClassRelation is one typed relation from the classification service.
type ClassRelation struct {
	RelatedConceptName string `json:"related_concept_name"`
	RelationType       string `json:"relation_type"`
}

// ClassResponse is the typed result of a classification lookup,
// decoded once at the boundary.
type ClassResponse struct {
	DrugName  string          `json:"drug_name"`
	Relations []ClassRelation `json:"relations"`
}

// Classifier is the external drug-classification capability. Lookups
// may suspend on I/O, time out, or fail; failures are always
// per-medication and non-fatal.
type Classifier interface {
	LookupClasses(ctx context.Context, drugName string) (*ClassResponse, error)
}

// DrugProfile is display-oriented drug information assembled from
// classification relations.
type DrugProfile struct {
	Name        string   `json:"name"`
	Uses        []string `json:"uses"`
	SideEffects []string `json:"side_effects"`
	Placeholder bool     `json:"placeholder"` // true when the lookup produced no data
}
