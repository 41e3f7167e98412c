package places

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogResolvesDepartments(t *testing.T) {
	c := Default()

	row, ok := c.FindPlace("qué pasó con las víctimas en antioquia")
	if !ok {
		t.Fatal("expected a match for antioquia")
	}
	if row.Departamento != "Antioquia" || row.Municipio != "" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestFindPlacePrefersLongestMatch(t *testing.T) {
	c := Default()

	// "valle del cauca" contains "cauca"; the department match must win.
	row, ok := c.FindPlace("desplazamiento en el valle del cauca")
	if !ok {
		t.Fatal("expected a match")
	}
	if row.Departamento != "Valle del Cauca" {
		t.Fatalf("expected Valle del Cauca, got %+v", row)
	}
}

func TestFindPlaceMunicipalityCarriesDepartment(t *testing.T) {
	c := Default()

	row, ok := c.FindPlace("homicidios en medellín durante 2002")
	if !ok {
		t.Fatal("expected a match for medellín")
	}
	if row.Municipio != "Medellín" || row.Departamento != "Antioquia" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestFindPlaceNoMatch(t *testing.T) {
	c := Default()

	if _, ok := c.FindPlace("cuántas víctimas hay en total"); ok {
		t.Fatal("expected no match")
	}
	if _, ok := c.FindPlace(""); ok {
		t.Fatal("empty text must not match")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.yaml")
	data := `departamentos:
  - nombre: Antioquia
    municipios: [Medellín, Turbo]
  - nombre: Chocó
    municipios: [Quibdó]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Size() != 5 {
		t.Fatalf("expected 5 entries, got %d", c.Size())
	}
	row, ok := c.FindPlace("masacre en turbo")
	if !ok || row.Departamento != "Antioquia" || row.Municipio != "Turbo" {
		t.Fatalf("unexpected row %+v ok=%v", row, ok)
	}
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("departamentos: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestLoadEmptyPathFallsBackToDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.FindPlace("chocó"); !ok {
		t.Fatal("default catalog must know chocó")
	}
}
