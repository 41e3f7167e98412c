package domain

import (
	"regexp"
	"strings"
	"time"
)

// Document is one judicial artifact as stored in the documentos table.
type Document struct {
	ID            string    `json:"id"`
	Archivo       string    `json:"archivo"`
	Ruta          string    `json:"ruta,omitempty"`
	NUC           string    `json:"nuc,omitempty"`
	Analisis      string    `json:"analisis,omitempty"`
	TextoExtraido string    `json:"texto_extraido,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Metadata is the archival record owned 1:1 by a document. Field names follow
// the Colombian judicial filing system; detalle doubles as the document-type
// label.
type Metadata struct {
	DocumentoID       string     `json:"documento_id"`
	NUC               string     `json:"nuc"`
	Cuaderno          string     `json:"cuaderno,omitempty"`
	Codigo            string     `json:"codigo,omitempty"`
	Despacho          string     `json:"despacho,omitempty"`
	EntidadProductora string     `json:"entidad_productora,omitempty"`
	Serie             string     `json:"serie,omitempty"`
	Subserie          string     `json:"subserie,omitempty"`
	Detalle           string     `json:"detalle,omitempty"`
	FolioInicial      int        `json:"folio_inicial,omitempty"`
	FolioFinal        int        `json:"folio_final,omitempty"`
	FechaCreacion     *time.Time `json:"fecha_creacion,omitempty"`
	Firma             string     `json:"firma,omitempty"`
}

// PersonType values seen in personas.tipo. The same name across documents is
// intentionally repeated; identity is (nombre, documento_id).
const (
	PersonVictima     = "victima"
	PersonVictimario  = "victimario"
	PersonFuncionario = "funcionario"
)

type VictimRow struct {
	Nombre    string `json:"nombre"`
	Menciones int    `json:"menciones"`
}

type DocumentRow struct {
	ID        string    `json:"id"`
	Archivo   string    `json:"archivo"`
	NUC       string    `json:"nuc"`
	Despacho  string    `json:"despacho,omitempty"`
	Detalle   string    `json:"detalle,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PlaceRow struct {
	Departamento string `json:"departamento,omitempty"`
	Municipio    string `json:"municipio,omitempty"`
	Nombre       string `json:"nombre,omitempty"`
}

// VictimDetail aggregates everything known about one person name.
type VictimDetail struct {
	Nombre     string        `json:"nombre"`
	Menciones  int           `json:"menciones"`
	Documentos []DocumentRow `json:"documentos"`
	Lugares    []PlaceRow    `json:"lugares,omitempty"`
	Fechas     []time.Time   `json:"fechas,omitempty"`
}

// OccurrencePair is one edge of the co-occurrence network materialized in
// mv_red_conexiones.
type OccurrencePair struct {
	Entidad1              string `json:"entidad1"`
	Entidad2              string `json:"entidad2"`
	Frecuencia            int    `json:"frecuencia"`
	DocumentosCompartidos int    `json:"documentos_compartidos,omitempty"`
}

var batchSuffixRe = regexp.MustCompile(`_batch_resultado_\d+$`)

// NormalizeArchivo canonicalizes a filename for cross-store comparison.
// Ingestion appended _batch_resultado_<ts> and extension variants, so raw
// filenames must never be used as join keys.
func NormalizeArchivo(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "")
	for _, ext := range []string{".pdf", ".json"} {
		name = strings.TrimSuffix(name, ext)
	}
	return batchSuffixRe.ReplaceAllString(name, "")
}
