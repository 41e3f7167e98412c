package usecase

import (
	"fmt"
	"strings"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

const chunkExcerptLimit = 500

// promptInstructions is the fixed Spanish instruction block. Every factual
// claim must quote a [CITA-n] marker; the marker ordinals are the contract
// with the citation resolver.
const promptInstructions = `Eres un asistente de análisis de expedientes judiciales colombianos.
Responde de forma estructurada, con encabezados y listas cuando aplique.
Cita CADA afirmación factual con el marcador [CITA-n] correspondiente a la evidencia numerada.
Si la evidencia es insuficiente para responder, dilo explícitamente.
No inventes datos que no estén en los bloques de evidencia.`

const citationReminder = `Tu respuesta anterior no incluyó marcadores [CITA-n].
Reescribe la respuesta citando cada afirmación factual con el marcador [CITA-n] de la evidencia numerada.`

// BuildAnswerPrompt assembles the single prompt for the LLM: fixed
// instructions, a compact relational block, and the numbered semantic block
// whose ordering the citation resolver depends on.
func BuildAnswerPrompt(question string, plan domain.QueryPlan, res RouteResult) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\nPregunta del usuario:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nFiltros aplicados: ")
	b.WriteString(plan.CombinedFilters.Summary())
	b.WriteString("\n")

	if rel := relationalBlock(res); rel != "" {
		b.WriteString("\n== DATOS ESTRUCTURADOS ==\n")
		b.WriteString(rel)
	}
	if sem := semanticBlock(res); sem != "" {
		b.WriteString("\n== EVIDENCIA DOCUMENTAL ==\n")
		b.WriteString(sem)
	}
	return b.String()
}

// BuildCitationRetryPrompt re-asks for the required [CITA-n] structure after
// a response that used the semantic block but cited nothing.
func BuildCitationRetryPrompt(original, previousAnswer string) string {
	return original + "\n\n== RESPUESTA ANTERIOR ==\n" + previousAnswer + "\n\n" + citationReminder
}

func relationalBlock(res RouteResult) string {
	if !res.RelationalRun {
		return ""
	}
	var b strings.Builder

	fmt.Fprintf(&b, "Total de víctimas bajo los filtros: %d\n", res.VictimCount)

	if len(res.Victims) > 0 {
		b.WriteString("Víctimas (nombre | menciones):\n")
		for _, v := range res.Victims {
			fmt.Fprintf(&b, "- %s | %d\n", v.Nombre, v.Menciones)
		}
	}
	if res.Detail != nil {
		fmt.Fprintf(&b, "Detalle de %s: %d menciones en %d documentos\n",
			res.Detail.Nombre, res.Detail.Menciones, len(res.Detail.Documentos))
		for _, p := range res.Detail.Lugares {
			fmt.Fprintf(&b, "- lugar: %s %s %s\n", p.Departamento, p.Municipio, p.Nombre)
		}
	}
	if len(res.Sources) > 0 {
		b.WriteString("Documentos (archivo | nuc | tipo):\n")
		for _, s := range res.Sources {
			fmt.Fprintf(&b, "- %s | %s | %s\n", s.Archivo, s.NUC, s.Detalle)
		}
	}
	return b.String()
}

// semanticBlock numbers each chunk as [CITA-n] in the exact order it will be
// resolved. Item n must stay aligned with chunks[n-1] in the route result.
func semanticBlock(res RouteResult) string {
	if len(res.Chunks) == 0 && len(res.DocHits) == 0 {
		return ""
	}
	var b strings.Builder

	for i, chunk := range res.Chunks {
		fmt.Fprintf(&b, "[CITA-%d] %s p.%d §%d: %s\n",
			i+1, chunk.NombreArchivo, chunk.Pagina, chunk.Parrafo, truncateRunes(chunk.TextoChunk, chunkExcerptLimit))
	}
	if len(res.DocHits) > 0 {
		b.WriteString("Resumen por documento:\n")
		for _, hit := range res.DocHits {
			fmt.Fprintf(&b, "- %s (nuc %s): %s\n", hit.Archivo, hit.NUC, truncateRunes(hit.Analisis, chunkExcerptLimit))
		}
	}
	return b.String()
}

// EvidenceFallbackText renders retrieved evidence when no synthesis was
// possible, so the caller still gets the raw grounded material.
func EvidenceFallbackText(res RouteResult) string {
	var b strings.Builder
	b.WriteString("No fue posible sintetizar una respuesta. Evidencia recuperada:\n")
	if rel := relationalBlock(res); rel != "" {
		b.WriteString(rel)
	}
	for i, chunk := range res.Chunks {
		fmt.Fprintf(&b, "[CITA-%d] %s p.%d §%d: %s\n",
			i+1, chunk.NombreArchivo, chunk.Pagina, chunk.Parrafo, truncateRunes(chunk.TextoChunk, chunkExcerptLimit))
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
