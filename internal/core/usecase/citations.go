package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

var citaMarkerRe = regexp.MustCompile(`\[CITA-(\d+)\]`)

// ResolveCitations maps every [CITA-n] marker in the model output back to
// chunks[n-1] of the list that was fed into the prompt. Citations keep
// the order of first appearance; markers with no matching chunk are stripped
// from the text and reported as a dangling_citation warning.
func ResolveCitations(text string, chunks []domain.Chunk, tribunals map[string]string) (string, []domain.Citation, []string) {
	matches := citaMarkerRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil, nil
	}

	var citations []domain.Citation
	seen := make(map[int]struct{})
	dangling := false

	for _, m := range matches {
		ordinal, err := strconv.Atoi(m[1])
		if err != nil || ordinal < 1 || ordinal > len(chunks) {
			text = strings.ReplaceAll(text, m[0], "")
			dangling = true
			continue
		}
		if _, ok := seen[ordinal]; ok {
			continue
		}
		seen[ordinal] = struct{}{}

		chunk := chunks[ordinal-1]
		citation := domain.Citation{
			Marker:        "CITA-" + m[1],
			DocumentoID:   chunk.DocumentoID,
			Archivo:       chunk.NombreArchivo,
			NUC:           chunk.NUC,
			Pagina:        chunk.Pagina,
			Parrafo:       chunk.Parrafo,
			TipoDocumento: chunk.TipoDocumento,
			TextoChunk:    chunk.TextoChunk,
			Relevancia:    chunk.Relevancia,
		}
		if tribunals != nil {
			citation.Tribunal = tribunals[domain.NormalizeArchivo(chunk.NombreArchivo)]
		}
		citations = append(citations, citation)
	}

	var warnings []string
	if dangling {
		warnings = append(warnings, domain.WarningDanglingCitation)
	}
	return strings.TrimSpace(collapseSpaces(text)), citations, warnings
}

// collapseSpaces tidies the gaps left by stripped markers.
func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
