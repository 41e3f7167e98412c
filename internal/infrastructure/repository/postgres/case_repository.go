package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

// victimSelector is the ONLY victim predicate in the codebase. personas.tipo
// carries free-form labels, so victimario must be excluded explicitly: a
// plain '%victima%' match would count perpetrators as victims.
const victimSelector = `p.tipo ILIKE '%victima%'
  AND p.tipo NOT ILIKE '%victimario%'
  AND p.nombre IS NOT NULL AND p.nombre <> ''`

const maxOccurrencePairs = 500

// CaseRepository reads the expediente tables: documentos, metadatos,
// personas, analisis_lugares, analisis_fechas and the mv_red_conexiones
// materialized view. All access is read-only and parametrized.
type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

func (r *CaseRepository) CountVictims(ctx context.Context, f domain.FilterContext) (int, error) {
	query := `
SELECT COUNT(DISTINCT p.nombre)
FROM personas p
JOIN documentos d ON d.id = p.documento_id
JOIN metadatos m ON m.documento_id = d.id
WHERE ` + victimSelector
	query, params := f.AppendSQL(query, nil)

	var count int
	if err := r.db.QueryRowContext(ctx, query, params...).Scan(&count); err != nil {
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "count victims", err)
	}
	return count, nil
}

func (r *CaseRepository) ListVictims(ctx context.Context, f domain.FilterContext, page, pageSize int) ([]domain.VictimRow, int, error) {
	if err := validatePagination(page, pageSize); err != nil {
		return nil, 0, err
	}

	total, err := r.CountVictims(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	query := `
SELECT p.nombre, COUNT(*) AS menciones
FROM personas p
JOIN documentos d ON d.id = p.documento_id
JOIN metadatos m ON m.documento_id = d.id
WHERE ` + victimSelector
	query, params := f.AppendSQL(query, nil)
	query += fmt.Sprintf(`
GROUP BY p.nombre
ORDER BY menciones DESC, p.nombre ASC
LIMIT $%d OFFSET $%d`, len(params)+1, len(params)+2)
	params = append(params, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "list victims", err)
	}
	defer rows.Close()

	var victims []domain.VictimRow
	for rows.Next() {
		var v domain.VictimRow
		if err := rows.Scan(&v.Nombre, &v.Menciones); err != nil {
			return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "scan victim row", err)
		}
		v.Nombre = domain.RepairText(v.Nombre)
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "iterate victim rows", err)
	}
	return victims, total, nil
}

func (r *CaseRepository) ListDocuments(ctx context.Context, f domain.FilterContext, page, pageSize int) ([]domain.DocumentRow, int, error) {
	if err := validatePagination(page, pageSize); err != nil {
		return nil, 0, err
	}

	countQuery := `
SELECT COUNT(*)
FROM documentos d
JOIN metadatos m ON m.documento_id = d.id
WHERE 1=1`
	countQuery, countParams := f.AppendSQL(countQuery, nil)

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countParams...).Scan(&total); err != nil {
		return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "count documents", err)
	}

	query := `
SELECT d.id, d.archivo, m.nuc, COALESCE(m.despacho, ''), COALESCE(m.detalle, ''), d.created_at
FROM documentos d
JOIN metadatos m ON m.documento_id = d.id
WHERE 1=1`
	query, params := f.AppendSQL(query, nil)
	query += fmt.Sprintf(`
ORDER BY d.created_at DESC
LIMIT $%d OFFSET $%d`, len(params)+1, len(params)+2)
	params = append(params, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "list documents", err)
	}
	defer rows.Close()

	var docs []domain.DocumentRow
	for rows.Next() {
		var row domain.DocumentRow
		if err := rows.Scan(&row.ID, &row.Archivo, &row.NUC, &row.Despacho, &row.Detalle, &row.CreatedAt); err != nil {
			return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "scan document row", err)
		}
		row.Archivo = domain.RepairText(row.Archivo)
		row.Despacho = domain.RepairText(row.Despacho)
		row.Detalle = domain.RepairText(row.Detalle)
		docs = append(docs, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.WrapError(domain.ErrBackendUnavailable, "iterate document rows", err)
	}
	return docs, total, nil
}

// VictimDetail aggregates mentions, documents, places and dates for one name.
// The comparison ignores case and spacing because ingestion preserved the
// typography of the source PDFs.
func (r *CaseRepository) VictimDetail(ctx context.Context, nombre string) (*domain.VictimDetail, error) {
	detail := &domain.VictimDetail{}

	err := r.db.QueryRowContext(ctx, `
SELECT p.nombre, COUNT(*) AS menciones
FROM personas p
WHERE `+victimSelector+`
  AND LOWER(REPLACE(p.nombre, ' ', '')) = LOWER(REPLACE($1, ' ', ''))
GROUP BY p.nombre
ORDER BY menciones DESC
LIMIT 1`, nombre).Scan(&detail.Nombre, &detail.Menciones)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "victim detail", fmt.Errorf("no victim named %q", nombre))
		}
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "victim detail", err)
	}
	detail.Nombre = domain.RepairText(detail.Nombre)

	docs, err := r.db.QueryContext(ctx, `
SELECT DISTINCT d.id, d.archivo, COALESCE(m.nuc, ''), COALESCE(m.despacho, ''), COALESCE(m.detalle, ''), d.created_at
FROM personas p
JOIN documentos d ON d.id = p.documento_id
LEFT JOIN metadatos m ON m.documento_id = d.id
WHERE LOWER(REPLACE(p.nombre, ' ', '')) = LOWER(REPLACE($1, ' ', ''))
ORDER BY d.created_at DESC
LIMIT 10`, nombre)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "victim documents", err)
	}
	defer docs.Close()

	for docs.Next() {
		var row domain.DocumentRow
		if err := docs.Scan(&row.ID, &row.Archivo, &row.NUC, &row.Despacho, &row.Detalle, &row.CreatedAt); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan victim document", err)
		}
		row.Archivo = domain.RepairText(row.Archivo)
		row.Despacho = domain.RepairText(row.Despacho)
		detail.Documentos = append(detail.Documentos, row)
	}
	if err := docs.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate victim documents", err)
	}

	places, err := r.db.QueryContext(ctx, `
SELECT DISTINCT COALESCE(al.departamento, ''), COALESCE(al.municipio, ''), COALESCE(al.nombre, '')
FROM analisis_lugares al
JOIN personas p ON p.documento_id = al.documento_id
WHERE LOWER(REPLACE(p.nombre, ' ', '')) = LOWER(REPLACE($1, ' ', ''))
LIMIT 10`, nombre)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "victim places", err)
	}
	defer places.Close()

	for places.Next() {
		var row domain.PlaceRow
		if err := places.Scan(&row.Departamento, &row.Municipio, &row.Nombre); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan victim place", err)
		}
		row.Departamento = domain.RepairText(row.Departamento)
		row.Municipio = domain.RepairText(row.Municipio)
		row.Nombre = domain.RepairText(row.Nombre)
		detail.Lugares = append(detail.Lugares, row)
	}
	if err := places.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate victim places", err)
	}

	dates, err := r.db.QueryContext(ctx, `
SELECT DISTINCT af.fecha
FROM analisis_fechas af
JOIN personas p ON p.documento_id = af.documento_id
WHERE LOWER(REPLACE(p.nombre, ' ', '')) = LOWER(REPLACE($1, ' ', ''))
  AND af.fecha IS NOT NULL
ORDER BY af.fecha
LIMIT 10`, nombre)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "victim dates", err)
	}
	defer dates.Close()

	for dates.Next() {
		var fecha sql.NullTime
		if err := dates.Scan(&fecha); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan victim date", err)
		}
		if fecha.Valid {
			detail.Fechas = append(detail.Fechas, fecha.Time)
		}
	}
	if err := dates.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate victim dates", err)
	}

	return detail, nil
}

func (r *CaseRepository) DocumentMetadata(ctx context.Context, archivo string) (*domain.Metadata, error) {
	normalized := domain.NormalizeArchivo(archivo)
	if normalized == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "document metadata", errors.New("archivo is required"))
	}

	row := r.db.QueryRowContext(ctx, `
SELECT m.documento_id, COALESCE(m.nuc, ''), COALESCE(m.cuaderno, ''), COALESCE(m.codigo, ''),
       COALESCE(m.despacho, ''), COALESCE(m.entidad_productora, ''), COALESCE(m.serie, ''),
       COALESCE(m.subserie, ''), COALESCE(m.detalle, ''), COALESCE(m.folio_inicial, 0),
       COALESCE(m.folio_final, 0), m.fecha_creacion, COALESCE(m.firma, '')
FROM metadatos m
JOIN documentos d ON d.id = m.documento_id
WHERE LOWER(REPLACE(d.archivo, ' ', '')) LIKE $1 || '%'
ORDER BY d.created_at DESC
LIMIT 1`, normalized)

	var meta domain.Metadata
	var fecha sql.NullTime
	err := row.Scan(
		&meta.DocumentoID, &meta.NUC, &meta.Cuaderno, &meta.Codigo,
		&meta.Despacho, &meta.EntidadProductora, &meta.Serie,
		&meta.Subserie, &meta.Detalle, &meta.FolioInicial,
		&meta.FolioFinal, &fecha, &meta.Firma,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "document metadata", fmt.Errorf("no metadata for %q", archivo))
		}
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "document metadata", err)
	}
	if fecha.Valid {
		t := fecha.Time
		meta.FechaCreacion = &t
	}
	meta.Despacho = domain.RepairText(meta.Despacho)
	meta.EntidadProductora = domain.RepairText(meta.EntidadProductora)
	meta.Detalle = domain.RepairText(meta.Detalle)
	return &meta, nil
}

// optionQueries whitelists the filterable fields exposed to dropdowns.
// Field names never reach SQL through interpolation.
var optionQueries = map[string]string{
	"nuc":            `SELECT DISTINCT nuc FROM metadatos WHERE nuc IS NOT NULL AND nuc <> '' ORDER BY nuc`,
	"despacho":       `SELECT DISTINCT despacho FROM metadatos WHERE despacho IS NOT NULL AND despacho <> '' ORDER BY despacho`,
	"tipo_documento": `SELECT DISTINCT detalle FROM metadatos WHERE detalle IS NOT NULL AND detalle <> '' ORDER BY detalle`,
	"departamento":   `SELECT DISTINCT departamento FROM analisis_lugares WHERE departamento IS NOT NULL AND departamento <> '' ORDER BY departamento`,
	"municipio":      `SELECT DISTINCT municipio FROM analisis_lugares WHERE municipio IS NOT NULL AND municipio <> '' ORDER BY municipio`,
}

func (r *CaseRepository) EntityOptions(ctx context.Context, field string) ([]string, error) {
	query, ok := optionQueries[field]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "entity options", fmt.Errorf("unknown field %q", field))
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "entity options", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan option", err)
		}
		values = append(values, domain.RepairText(v))
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate options", err)
	}
	return values, nil
}

func (r *CaseRepository) OccurrencePairs(ctx context.Context, minFreq int) ([]domain.OccurrencePair, error) {
	if minFreq < 1 {
		minFreq = 1
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT entidad1, entidad2, frecuencia, COALESCE(documentos_compartidos, 0)
FROM mv_red_conexiones
WHERE frecuencia >= $1
ORDER BY frecuencia DESC
LIMIT $2`, minFreq, maxOccurrencePairs)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "occurrence pairs", err)
	}
	defer rows.Close()

	var pairs []domain.OccurrencePair
	for rows.Next() {
		var p domain.OccurrencePair
		if err := rows.Scan(&p.Entidad1, &p.Entidad2, &p.Frecuencia, &p.DocumentosCompartidos); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan occurrence pair", err)
		}
		p.Entidad1 = domain.RepairText(p.Entidad1)
		p.Entidad2 = domain.RepairText(p.Entidad2)
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate occurrence pairs", err)
	}
	return pairs, nil
}

func (r *CaseRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "ping postgres", err)
	}
	return nil
}

func validatePagination(page, pageSize int) error {
	if page < 1 || pageSize < 1 {
		return domain.WrapError(domain.ErrInvalidFilter, "validate pagination",
			fmt.Errorf("page %d and page_size %d must be >= 1", page, pageSize))
	}
	return nil
}

var _ ports.CaseRepository = (*CaseRepository)(nil)
