package usecase

import (
	"strings"
	"testing"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

type catalogFake struct {
	places map[string]domain.PlaceRow
}

func (f catalogFake) FindPlace(text string) (domain.PlaceRow, bool) {
	best := ""
	for name := range f.places {
		if strings.Contains(text, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return domain.PlaceRow{}, false
	}
	return f.places[best], true
}

func testCatalog() catalogFake {
	return catalogFake{places: map[string]domain.PlaceRow{
		"antioquia": {Departamento: "Antioquia"},
		"medellín":  {Departamento: "Antioquia", Municipio: "Medellín"},
		"chocó":     {Departamento: "Chocó"},
	}}
}

func TestDecomposePersonLookup(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("¿Quién es Oswaldo Olivo?", domain.FilterContext{})

	if len(plan.Clauses) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(plan.Clauses))
	}
	clause := plan.Clauses[0]
	if clause.Intent != domain.IntentPersonLookup || clause.Strategy != domain.StrategyRelational {
		t.Fatalf("expected person_lookup/relational, got %s/%s", clause.Intent, clause.Strategy)
	}
	if clause.Entities.NombrePersona != "Oswaldo Olivo" {
		t.Fatalf("expected name Oswaldo Olivo, got %q", clause.Entities.NombrePersona)
	}
	if plan.EstrategiaPrincipal != domain.EstrategiaRelational {
		t.Fatalf("expected relational strategy, got %s", plan.EstrategiaPrincipal)
	}
}

func TestDecomposeRejectsSingleWordNames(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("quién es Oswaldo", domain.FilterContext{})

	if plan.Clauses[0].Entities.NombrePersona != "" {
		t.Fatalf("one-word names must not match, got %q", plan.Clauses[0].Entities.NombrePersona)
	}
}

func TestDecomposeHybridListingAndAnalysis(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose(
		"dame la lista de víctimas en Antioquia y los patrones criminales que observes",
		domain.FilterContext{Departamento: "Antioquia"},
	)

	if len(plan.Clauses) < 2 {
		t.Fatalf("expected at least 2 clauses, got %d: %+v", len(plan.Clauses), plan.Clauses)
	}
	if plan.Clauses[0].Strategy != domain.StrategyFilterApplied && plan.Clauses[0].Strategy != domain.StrategyRelational {
		t.Fatalf("first clause should run relationally, got %s", plan.Clauses[0].Strategy)
	}
	foundSemantic := false
	for _, c := range plan.Clauses {
		if c.Strategy == domain.StrategySemantic {
			foundSemantic = true
			if c.Intent != domain.IntentConceptualAnalysis {
				t.Fatalf("semantic clause should be conceptual_analysis, got %s", c.Intent)
			}
		}
	}
	if !foundSemantic {
		t.Fatalf("expected a semantic clause, got %+v", plan.Clauses)
	}
	if !plan.NeedsRelational || !plan.NeedsSemantic {
		t.Fatalf("expected hybrid needs, got rel=%v sem=%v", plan.NeedsRelational, plan.NeedsSemantic)
	}
	if plan.EstrategiaPrincipal != domain.EstrategiaHybrid {
		t.Fatalf("expected hybrid, got %s", plan.EstrategiaPrincipal)
	}
}

func TestDecomposeGeoClauseFillsFilters(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("cuántas víctimas en Antioquia", domain.FilterContext{})

	clause := plan.Clauses[0]
	if clause.Intent != domain.IntentGeoFilter || clause.Strategy != domain.StrategyFilterApplied {
		t.Fatalf("expected geo_filter/filter_applied, got %s/%s", clause.Intent, clause.Strategy)
	}
	if plan.CombinedFilters.Departamento != "Antioquia" {
		t.Fatalf("detected place should fill departamento, got %q", plan.CombinedFilters.Departamento)
	}
	if plan.EstrategiaPrincipal != domain.EstrategiaRelational {
		t.Fatalf("expected relational, got %s", plan.EstrategiaPrincipal)
	}
}

func TestDecomposeDetectedPlaceNeverOverridesCaller(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("víctimas en Antioquia", domain.FilterContext{Departamento: "Chocó"})

	if plan.CombinedFilters.Departamento != "Chocó" {
		t.Fatalf("caller filter must win, got %q", plan.CombinedFilters.Departamento)
	}
}

func TestDecomposeDropsShortClauses(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("los patrones criminales que observes", domain.FilterContext{})

	for _, c := range plan.Clauses {
		if len(strings.Fields(c.Text)) < 2 {
			t.Fatalf("clauses under two tokens must be dropped, got %q", c.Text)
		}
	}
}

func TestDecomposeFallbackConfidence(t *testing.T) {
	d := NewDecomposer(testCatalog())
	plan := d.Decompose("documentos del despacho", domain.FilterContext{})

	if plan.Clauses[0].Intent != domain.IntentDataLookup {
		t.Fatalf("expected data_lookup fallback, got %s", plan.Clauses[0].Intent)
	}
	if plan.Clauses[0].Confidence != clauseFallbackConfidence {
		t.Fatalf("expected fallback confidence, got %f", plan.Clauses[0].Confidence)
	}
}
