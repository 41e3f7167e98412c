package usecase

import (
	"strings"
	"testing"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

func fiveChunks() []domain.Chunk {
	chunks := make([]domain.Chunk, 5)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ChunkID:       string(rune('a' + i)),
			DocumentoID:   "doc-" + string(rune('1'+i)),
			NombreArchivo: "sentencia00" + string(rune('1'+i)),
			NUC:           "nuc",
			Pagina:        i + 1,
			Parrafo:       1,
			TextoChunk:    "texto",
			Relevancia:    0.9,
		}
	}
	return chunks
}

func TestResolveCitationsPositional(t *testing.T) {
	text := "Primero [CITA-2] y luego [CITA-1]."
	clean, citations, warnings := ResolveCitations(text, fiveChunks(), nil)

	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if clean != text {
		t.Fatalf("valid markers must stay in the text, got %q", clean)
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	// First appearance wins the ordering.
	if citations[0].Marker != "CITA-2" || citations[0].Archivo != "sentencia002" {
		t.Fatalf("first citation wrong: %+v", citations[0])
	}
	if citations[1].Marker != "CITA-1" || citations[1].Pagina != 1 {
		t.Fatalf("second citation wrong: %+v", citations[1])
	}
}

func TestResolveCitationsRepeatedMarkerOnce(t *testing.T) {
	_, citations, _ := ResolveCitations("[CITA-3] dice algo y [CITA-3] lo repite", fiveChunks(), nil)

	if len(citations) != 1 {
		t.Fatalf("repeated ordinals collapse to one citation, got %d", len(citations))
	}
	if citations[0].Marker != "CITA-3" {
		t.Fatalf("wrong citation: %+v", citations[0])
	}
}

func TestResolveCitationsDanglingMarkerStripped(t *testing.T) {
	clean, citations, warnings := ResolveCitations("Consta en [CITA-9] del expediente.", fiveChunks(), nil)

	if strings.Contains(clean, "CITA-9") {
		t.Fatalf("out-of-range marker must be stripped, got %q", clean)
	}
	if clean != "Consta en del expediente." {
		t.Fatalf("stripped text untidy: %q", clean)
	}
	if len(citations) != 0 {
		t.Fatalf("no citation for a dangling marker, got %+v", citations)
	}
	if len(warnings) != 1 || warnings[0] != domain.WarningDanglingCitation {
		t.Fatalf("expected dangling_citation warning, got %v", warnings)
	}
}

func TestResolveCitationsMixedValidAndDangling(t *testing.T) {
	clean, citations, warnings := ResolveCitations("Ver [CITA-1] y [CITA-7].", fiveChunks(), nil)

	if len(citations) != 1 || citations[0].Marker != "CITA-1" {
		t.Fatalf("valid marker must survive, got %+v", citations)
	}
	if strings.Contains(clean, "CITA-7") {
		t.Fatalf("dangling marker left in text: %q", clean)
	}
	if len(warnings) != 1 || warnings[0] != domain.WarningDanglingCitation {
		t.Fatalf("expected dangling_citation warning, got %v", warnings)
	}
}

func TestResolveCitationsNoMarkers(t *testing.T) {
	clean, citations, warnings := ResolveCitations("respuesta sin marcadores", fiveChunks(), nil)

	if clean != "respuesta sin marcadores" || citations != nil || warnings != nil {
		t.Fatalf("text without markers passes through untouched: %q %v %v", clean, citations, warnings)
	}
}

func TestResolveCitationsTribunalLookup(t *testing.T) {
	chunks := []domain.Chunk{{NombreArchivo: "Sentencia 001.pdf", DocumentoID: "d1"}}
	tribunals := map[string]string{"sentencia001": "Tribunal Superior de Medellín"}

	_, citations, _ := ResolveCitations("[CITA-1]", chunks, tribunals)

	if len(citations) != 1 {
		t.Fatalf("expected one citation, got %d", len(citations))
	}
	if citations[0].Tribunal != "Tribunal Superior de Medellín" {
		t.Fatalf("tribunal lookup must use the normalized filename, got %q", citations[0].Tribunal)
	}
}
