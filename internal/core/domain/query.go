package domain

// Clause intents assigned by the sentence decomposer.
type Intent string

const (
	IntentDataLookup         Intent = "data_lookup"
	IntentGeoFilter          Intent = "geo_filter"
	IntentConceptualAnalysis Intent = "conceptual_analysis"
	IntentPersonLookup       Intent = "person_lookup"
)

// Strategy decides which gateway executes a clause.
type Strategy string

const (
	StrategyRelational    Strategy = "relational"
	StrategySemantic      Strategy = "semantic"
	StrategyFilterApplied Strategy = "filter_applied"
)

type ClauseEntities struct {
	NombrePersona string `json:"nombre_persona,omitempty"`
	Lugar         string `json:"lugar,omitempty"`
}

type Clause struct {
	Text       string         `json:"text"`
	Intent     Intent         `json:"intent"`
	Strategy   Strategy       `json:"strategy"`
	Entities   ClauseEntities `json:"entities"`
	Confidence float64        `json:"confidence"`
}

// QueryPlan is the decomposition of one user question. Clauses keep the order
// in which they appeared in the text; execution preserves that order.
type QueryPlan struct {
	OriginalQuery       string        `json:"original_query"`
	Clauses             []Clause      `json:"clauses"`
	CombinedFilters     FilterContext `json:"combined_filters"`
	NeedsRelational     bool          `json:"needs_relational"`
	NeedsSemantic       bool          `json:"needs_semantic"`
	EstrategiaPrincipal string        `json:"estrategia_principal"`
	Confidence          float64       `json:"confidence"`
}

const (
	EstrategiaRelational = "relational"
	EstrategiaSemantic   = "semantic"
	EstrategiaHybrid     = "hybrid"
)
