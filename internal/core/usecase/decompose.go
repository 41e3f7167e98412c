package usecase

import (
	"regexp"
	"strings"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

const (
	clauseConfidence         = 0.85
	clauseFallbackConfidence = 0.5
)

// clauseConnectors split a question into independently routable clauses.
var clauseConnectors = []string{" y ", " que ", ", "}

// personTrigger captures a proper name after one of the known lookup phrases.
// Names must be at least two capitalized words; the original casing is kept
// for display and normalized only when comparing.
var personTrigger = regexp.MustCompile(
	`(?:[Qq]ui[eé]n es|[Ii]nformaci[oó]n de|[Mm]enciones de|[Vv][ií]ctima|[Dd]atos de)\s+` +
		`([A-ZÁÉÍÓÚÑ][\p{L}]+(?:\s+[A-ZÁÉÍÓÚÑ][\p{L}]+)+)`)

var analysisKeywords = []string{"analiza", "patrón", "patron", "patrones"}

// Decomposer splits a free-text question into tagged clauses. It is
// deterministic: the LLM never participates in routing.
type Decomposer struct {
	places ports.PlaceCatalog
}

func NewDecomposer(places ports.PlaceCatalog) *Decomposer {
	return &Decomposer{places: places}
}

// Decompose produces the QueryPlan for question under the caller's filters.
// Clause-detected places fill in filter fields only when the caller left them
// unset.
func (d *Decomposer) Decompose(question string, caller domain.FilterContext) domain.QueryPlan {
	plan := domain.QueryPlan{
		OriginalQuery:   question,
		CombinedFilters: caller,
	}

	for _, text := range splitClauses(question) {
		clause := d.tagClause(text)
		plan.Clauses = append(plan.Clauses, clause)

		if clause.Entities.Lugar != "" {
			detected := d.placeFilter(clause.Entities.Lugar)
			plan.CombinedFilters = plan.CombinedFilters.Merge(detected)
		}

		switch clause.Strategy {
		case domain.StrategyRelational, domain.StrategyFilterApplied:
			plan.NeedsRelational = true
		case domain.StrategySemantic:
			plan.NeedsSemantic = true
		}
	}

	switch {
	case plan.NeedsRelational && plan.NeedsSemantic:
		plan.EstrategiaPrincipal = domain.EstrategiaHybrid
	case plan.NeedsSemantic:
		plan.EstrategiaPrincipal = domain.EstrategiaSemantic
	default:
		plan.EstrategiaPrincipal = domain.EstrategiaRelational
	}
	plan.Confidence = planConfidence(plan.Clauses)
	return plan
}

func (d *Decomposer) tagClause(text string) domain.Clause {
	clause := domain.Clause{Text: text, Confidence: clauseConfidence}
	lower := strings.ToLower(text)

	if m := personTrigger.FindStringSubmatch(text); m != nil {
		clause.Intent = domain.IntentPersonLookup
		clause.Strategy = domain.StrategyRelational
		clause.Entities.NombrePersona = m[1]
		return clause
	}

	for _, kw := range analysisKeywords {
		if strings.Contains(lower, kw) {
			clause.Intent = domain.IntentConceptualAnalysis
			clause.Strategy = domain.StrategySemantic
			if place, ok := d.findPlace(lower); ok {
				clause.Entities.Lugar = place
			}
			return clause
		}
	}

	if place, ok := d.findPlace(lower); ok {
		clause.Intent = domain.IntentGeoFilter
		clause.Strategy = domain.StrategyFilterApplied
		clause.Entities.Lugar = place
		return clause
	}

	clause.Intent = domain.IntentDataLookup
	clause.Strategy = domain.StrategyRelational
	clause.Confidence = clauseFallbackConfidence
	return clause
}

func (d *Decomposer) findPlace(lowerText string) (string, bool) {
	if d.places == nil {
		return "", false
	}
	place, ok := d.places.FindPlace(lowerText)
	if !ok {
		return "", false
	}
	if place.Municipio != "" {
		return place.Municipio, true
	}
	return place.Departamento, true
}

func (d *Decomposer) placeFilter(name string) domain.FilterContext {
	if d.places == nil {
		return domain.FilterContext{}
	}
	place, ok := d.places.FindPlace(strings.ToLower(name))
	if !ok {
		return domain.FilterContext{}
	}
	return domain.FilterContext{
		Departamento: place.Departamento,
		Municipio:    place.Municipio,
	}
}

// splitClauses cuts on the known connectors and drops clauses shorter than
// two tokens.
func splitClauses(question string) []string {
	marked := question
	for _, conn := range clauseConnectors {
		marked = strings.ReplaceAll(marked, conn, "\x00")
	}

	var out []string
	for _, part := range strings.Split(marked, "\x00") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(strings.Fields(part)) < 2 {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		if q := strings.TrimSpace(question); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func planConfidence(clauses []domain.Clause) float64 {
	if len(clauses) == 0 {
		return clauseFallbackConfidence
	}
	sum := 0.0
	for _, c := range clauses {
		sum += c.Confidence
	}
	return sum / float64(len(clauses))
}
