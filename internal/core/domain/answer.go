package domain

import "time"

// Answer methods recorded per query. textual_fallback marks lexical-only
// retrieval after an embedding outage; canceled marks caller disconnects.
const (
	MethodRelational      = "relational"
	MethodSemantic        = "semantic"
	MethodHybrid          = "hybrid"
	MethodTextualFallback = "textual_fallback"
	MethodCanceled        = "canceled"
	MethodFailed          = "failed"
)

// Per-request pipeline states. Terminal states are StateAnswered and
// StateFailed; FAILED still writes a trace record.
type QueryState string

const (
	StateReceived           QueryState = "RECEIVED"
	StateDecomposed         QueryState = "DECOMPOSED"
	StateRouted             QueryState = "ROUTED"
	StateRelationalExecuted QueryState = "RELATIONAL_EXECUTED"
	StateSemanticExecuted   QueryState = "SEMANTIC_EXECUTED"
	StateComposed           QueryState = "COMPOSED"
	StateResolved           QueryState = "RESOLVED"
	StateLogged             QueryState = "LOGGED"
	StateAnswered           QueryState = "ANSWERED"
	StateFailed             QueryState = "FAILED"
)

// Citation ties one [CITA-n] marker back to the chunk that grounded it. Built
// after the LLM responds by positional lookup against the prompt chunk list.
type Citation struct {
	Marker        string  `json:"marker"`
	DocumentoID   string  `json:"documento_id"`
	Archivo       string  `json:"archivo"`
	NUC           string  `json:"nuc,omitempty"`
	Pagina        int     `json:"pagina"`
	Parrafo       int     `json:"parrafo"`
	TipoDocumento string  `json:"tipo_documento,omitempty"`
	TextoChunk    string  `json:"texto_chunk"`
	Relevancia    float64 `json:"relevancia"`
	Tribunal      string  `json:"tribunal,omitempty"`
}

// Answer is the structured response returned to the caller; rendering is
// external.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Method     string     `json:"method"`
	Confidence float64    `json:"confidence"`
	LatencyMS  int64      `json:"latency_ms"`
	Plan       *QueryPlan `json:"plan,omitempty"`
	QueryID    string     `json:"query_id"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// AnswerRecord is the immutable trace of one query, persisted append-only.
type AnswerRecord struct {
	QueryID        string     `json:"query_id"`
	UserID         string     `json:"user_id,omitempty"`
	Question       string     `json:"question"`
	Plan           QueryPlan  `json:"plan"`
	RelationalHits int        `json:"relational_hits"`
	SemanticHits   int        `json:"semantic_hits"`
	LLMRaw         string     `json:"llm_raw,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
	LatencyMS      int64      `json:"latency_ms"`
	Method         string     `json:"method"`
	Confidence     float64    `json:"confidence"`
	Warnings       []string   `json:"warnings,omitempty"`
	FailureCause   string     `json:"failure_cause,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Feedback ratings run 1..5; everything else is optional and non-blocking.
type Feedback struct {
	QueryID        string         `json:"query_id"`
	Rating         int            `json:"rating"`
	Comment        string         `json:"comment,omitempty"`
	AspectRatings  map[string]int `json:"aspects,omitempty"`
	ExpectedAnswer string         `json:"expected,omitempty"`
}

type StatsRecent struct {
	QueryID   string    `json:"query_id"`
	Question  string    `json:"question"`
	Method    string    `json:"method"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	Total              int64            `json:"total"`
	Today              int64            `json:"today"`
	AvgLatencyMS       float64          `json:"avg_latency_ms"`
	AvgRating          float64          `json:"avg_rating"`
	MethodDistribution map[string]int64 `json:"method_distribution"`
	Recent             []StatsRecent    `json:"recent"`
}

type HistoryEntry struct {
	QueryID   string    `json:"query_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// GraphNode / GraphEdge mirror the property-graph store; auxiliary view only,
// never consulted by the answer path.
type GraphNode struct {
	Nombre string `json:"nombre"`
	Tipo   string `json:"tipo"`
}

type GraphEdge struct {
	Origen     string `json:"origen"`
	Destino    string `json:"destino"`
	Relacion   string `json:"relacion"`
	Frecuencia int    `json:"frecuencia"`
}

type GraphNetwork struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type ServiceHealth struct {
	Relational bool `json:"relational"`
	Index      bool `json:"index"`
	Embedding  bool `json:"embedding"`
	LLM        bool `json:"llm"`
}
