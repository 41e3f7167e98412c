package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// allNUCsSentinel is sent by filter dropdowns when every case is selected.
const allNUCsSentinel = "__ALL__"

// FilterContext narrows queries against both the relational store and the
// search indices. The zero value means "no restriction". Lifetime is one
// request; callers copy before mutating.
type FilterContext struct {
	NUCs          []string   `json:"nucs,omitempty"`
	FechaInicio   *time.Time `json:"fecha_inicio,omitempty"`
	FechaFin      *time.Time `json:"fecha_fin,omitempty"`
	Departamento  string     `json:"departamento,omitempty"`
	Municipio     string     `json:"municipio,omitempty"`
	TipoDocumento string     `json:"tipo_documento,omitempty"`
	Despacho      string     `json:"despacho,omitempty"`
}

// FilterRequest is the raw filter block accepted by the API.
type FilterRequest struct {
	NUCs          []string `json:"nucs,omitempty"`
	FechaInicio   string   `json:"fecha_inicio,omitempty"`
	FechaFin      string   `json:"fecha_fin,omitempty"`
	Departamento  string   `json:"departamento,omitempty"`
	Municipio     string   `json:"municipio,omitempty"`
	TipoDocumento string   `json:"tipo_documento,omitempty"`
	Despacho      string   `json:"despacho,omitempty"`
}

// FilterFromRequest normalizes raw UI/API filter input. Empty strings,
// wildcards and the __ALL__ NUC sentinel all collapse to "unset".
func FilterFromRequest(raw FilterRequest) (FilterContext, error) {
	out := FilterContext{
		Departamento:  normalizeFilterValue(raw.Departamento),
		Municipio:     normalizeFilterValue(raw.Municipio),
		TipoDocumento: normalizeFilterValue(raw.TipoDocumento),
		Despacho:      normalizeFilterValue(raw.Despacho),
	}

	for _, nuc := range raw.NUCs {
		nuc = strings.TrimSpace(nuc)
		if nuc == "" {
			continue
		}
		if nuc == allNUCsSentinel {
			out.NUCs = nil
			break
		}
		out.NUCs = append(out.NUCs, nuc)
	}
	sort.Strings(out.NUCs)
	out.NUCs = dedupeSorted(out.NUCs)

	var err error
	if out.FechaInicio, err = parseFilterDate(raw.FechaInicio); err != nil {
		return FilterContext{}, WrapError(ErrInvalidFilter, "parse fecha_inicio", err)
	}
	if out.FechaFin, err = parseFilterDate(raw.FechaFin); err != nil {
		return FilterContext{}, WrapError(ErrInvalidFilter, "parse fecha_fin", err)
	}
	if err := out.Validate(); err != nil {
		return FilterContext{}, err
	}
	return out, nil
}

func (f FilterContext) Validate() error {
	if f.FechaInicio != nil && f.FechaFin != nil && f.FechaInicio.After(*f.FechaFin) {
		return WrapError(ErrInvalidFilter, "validate filter",
			fmt.Errorf("fecha_inicio %s after fecha_fin %s",
				f.FechaInicio.Format("2006-01-02"), f.FechaFin.Format("2006-01-02")))
	}
	return nil
}

func (f FilterContext) IsEmpty() bool {
	return len(f.NUCs) == 0 && f.FechaInicio == nil && f.FechaFin == nil &&
		f.Departamento == "" && f.Municipio == "" && f.TipoDocumento == "" && f.Despacho == ""
}

// SingleNUC reports the NUC when the context restricts to exactly one case.
func (f FilterContext) SingleNUC() (string, bool) {
	if len(f.NUCs) == 1 {
		return f.NUCs[0], true
	}
	return "", false
}

func (f FilterContext) HasGeo() bool {
	return f.Departamento != "" || f.Municipio != ""
}

// AppendSQL extends a base query with AND predicates for every set field.
// The base query must alias documentos as d and metadatos as m; parameters
// continue the positional numbering of params. Geographic fields go through
// the analisis_lugares table with a substring fallback on metadatos.detalle,
// since the geo table covers only ~95% of documents.
func (f FilterContext) AppendSQL(base string, params []any) (string, []any) {
	var b strings.Builder
	b.WriteString(base)

	next := func(v any) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	if len(f.NUCs) > 0 {
		fmt.Fprintf(&b, " AND m.nuc = ANY(%s)", next(f.NUCs))
	}
	if f.FechaInicio != nil {
		fmt.Fprintf(&b, " AND m.fecha_creacion >= %s", next(*f.FechaInicio))
	}
	if f.FechaFin != nil {
		fmt.Fprintf(&b, " AND m.fecha_creacion <= %s", next(*f.FechaFin))
	}
	if f.TipoDocumento != "" {
		fmt.Fprintf(&b, " AND m.detalle ILIKE %s", next("%"+f.TipoDocumento+"%"))
	}
	if f.Despacho != "" {
		fmt.Fprintf(&b, " AND m.despacho ILIKE %s", next("%"+f.Despacho+"%"))
	}
	if f.Departamento != "" {
		p := next("%" + f.Departamento + "%")
		fmt.Fprintf(&b,
			" AND (EXISTS (SELECT 1 FROM analisis_lugares al WHERE al.documento_id = d.id AND al.departamento ILIKE %s)"+
				" OR m.detalle ILIKE %s OR d.analisis ILIKE %s)", p, p, p)
	}
	if f.Municipio != "" {
		p := next("%" + f.Municipio + "%")
		fmt.Fprintf(&b,
			" AND (EXISTS (SELECT 1 FROM analisis_lugares al WHERE al.documento_id = d.id AND al.municipio ILIKE %s)"+
				" OR m.detalle ILIKE %s OR d.analisis ILIKE %s)", p, p, p)
	}

	return b.String(), params
}

// IndexFilter renders the context as an OData filter expression for the
// search indices. Geographic fields use full-text search.ismatch over the
// combined place fields because the index stores places as free text.
func (f FilterContext) IndexFilter() string {
	var parts []string

	if len(f.NUCs) > 0 {
		terms := make([]string, 0, len(f.NUCs))
		for _, nuc := range f.NUCs {
			terms = append(terms, fmt.Sprintf("nuc eq '%s'", escapeODataString(nuc)))
		}
		clause := strings.Join(terms, " or ")
		if len(terms) > 1 {
			clause = "(" + clause + ")"
		}
		parts = append(parts, clause)
	}
	if f.FechaInicio != nil {
		parts = append(parts, fmt.Sprintf("fecha_creacion ge %s", f.FechaInicio.UTC().Format("2006-01-02T15:04:05Z")))
	}
	if f.FechaFin != nil {
		parts = append(parts, fmt.Sprintf("fecha_creacion le %s", f.FechaFin.UTC().Format("2006-01-02T15:04:05Z")))
	}
	if f.TipoDocumento != "" {
		parts = append(parts, fmt.Sprintf("tipo_documento eq '%s'", escapeODataString(f.TipoDocumento)))
	}
	if f.Despacho != "" {
		parts = append(parts, fmt.Sprintf("despacho eq '%s'", escapeODataString(f.Despacho)))
	}
	if f.Departamento != "" {
		parts = append(parts, fmt.Sprintf("search.ismatch('%s', 'lugares_hechos,lugares_chunk')", escapeODataString(f.Departamento)))
	}
	if f.Municipio != "" {
		parts = append(parts, fmt.Sprintf("search.ismatch('%s', 'lugares_hechos,lugares_chunk')", escapeODataString(f.Municipio)))
	}

	return strings.Join(parts, " and ")
}

// Merge copies fields set in other but unset in f into a new context.
// Caller-provided filters always win over text-detected ones.
func (f FilterContext) Merge(other FilterContext) FilterContext {
	out := f
	if len(out.NUCs) == 0 {
		out.NUCs = append([]string(nil), other.NUCs...)
	}
	if out.FechaInicio == nil {
		out.FechaInicio = other.FechaInicio
	}
	if out.FechaFin == nil {
		out.FechaFin = other.FechaFin
	}
	if out.Departamento == "" {
		out.Departamento = other.Departamento
	}
	if out.Municipio == "" {
		out.Municipio = other.Municipio
	}
	if out.TipoDocumento == "" {
		out.TipoDocumento = other.TipoDocumento
	}
	if out.Despacho == "" {
		out.Despacho = other.Despacho
	}
	return out
}

// Summary renders the active filters for log lines and LLM prompts.
func (f FilterContext) Summary() string {
	if f.IsEmpty() {
		return "sin filtros"
	}
	var parts []string
	if len(f.NUCs) > 0 {
		parts = append(parts, "nuc="+strings.Join(f.NUCs, ","))
	}
	if f.FechaInicio != nil {
		parts = append(parts, "desde="+f.FechaInicio.Format("2006-01-02"))
	}
	if f.FechaFin != nil {
		parts = append(parts, "hasta="+f.FechaFin.Format("2006-01-02"))
	}
	if f.Departamento != "" {
		parts = append(parts, "departamento="+f.Departamento)
	}
	if f.Municipio != "" {
		parts = append(parts, "municipio="+f.Municipio)
	}
	if f.TipoDocumento != "" {
		parts = append(parts, "tipo_documento="+f.TipoDocumento)
	}
	if f.Despacho != "" {
		parts = append(parts, "despacho="+f.Despacho)
	}
	return strings.Join(parts, " ")
}

func normalizeFilterValue(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "*", "todos", "todas", "all":
		return ""
	}
	return v
}

func parseFilterDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", v)
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func dedupeSorted(values []string) []string {
	if len(values) < 2 {
		return values
	}
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
