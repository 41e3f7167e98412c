// Package places resolves Colombian department and municipality names
// mentioned in free-text questions so geographic filters can be derived
// without asking the LLM.
package places

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

// Catalog is an in-memory gazetteer keyed by lowercase place name. Lookups
// prefer the longest match so "medellín" wins over a department that happens
// to be a substring of the question.
type Catalog struct {
	entries map[string]domain.PlaceRow
	// names sorted longest-first, computed once at load time
	names []string
}

var _ ports.PlaceCatalog = (*Catalog)(nil)

type catalogFile struct {
	Departamentos []struct {
		Nombre     string   `yaml:"nombre"`
		Municipios []string `yaml:"municipios"`
	} `yaml:"departamentos"`
}

// Load reads a YAML gazetteer. An empty path falls back to the built-in
// catalog covering the departments seen in the case corpus.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read places catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse places catalog: %w", err)
	}
	if len(file.Departamentos) == 0 {
		return nil, fmt.Errorf("places catalog %s: no departments", path)
	}

	c := &Catalog{entries: make(map[string]domain.PlaceRow)}
	for _, dep := range file.Departamentos {
		c.add(domain.PlaceRow{Departamento: dep.Nombre})
		for _, mun := range dep.Municipios {
			c.add(domain.PlaceRow{Departamento: dep.Nombre, Municipio: mun})
		}
	}
	c.index()
	return c, nil
}

// Default returns the built-in catalog. It lists every Colombian department
// and the municipalities that actually appear in the expediente corpus.
func Default() *Catalog {
	c := &Catalog{entries: make(map[string]domain.PlaceRow)}
	for dep, municipios := range builtinPlaces {
		c.add(domain.PlaceRow{Departamento: dep})
		for _, mun := range municipios {
			c.add(domain.PlaceRow{Departamento: dep, Municipio: mun})
		}
	}
	c.index()
	return c
}

func (c *Catalog) add(row domain.PlaceRow) {
	key := strings.ToLower(strings.TrimSpace(nameOf(row)))
	if key == "" {
		return
	}
	c.entries[key] = row
}

func (c *Catalog) index() {
	c.names = make([]string, 0, len(c.entries))
	for name := range c.entries {
		c.names = append(c.names, name)
	}
	sort.Slice(c.names, func(i, j int) bool {
		if len(c.names[i]) != len(c.names[j]) {
			return len(c.names[i]) > len(c.names[j])
		}
		return c.names[i] < c.names[j]
	})
}

// FindPlace scans text (expected lowercase) for the longest known place name.
func (c *Catalog) FindPlace(text string) (domain.PlaceRow, bool) {
	if text == "" {
		return domain.PlaceRow{}, false
	}
	text = strings.ToLower(text)
	for _, name := range c.names {
		if strings.Contains(text, name) {
			return c.entries[name], true
		}
	}
	return domain.PlaceRow{}, false
}

// Size reports how many distinct place names are resolvable.
func (c *Catalog) Size() int {
	return len(c.entries)
}

func nameOf(row domain.PlaceRow) string {
	if row.Municipio != "" {
		return row.Municipio
	}
	return row.Departamento
}

// builtinPlaces covers the 32 departments plus Bogotá; municipality lists are
// limited to those present in the ingested expedientes.
var builtinPlaces = map[string][]string{
	"Amazonas":           {"Leticia"},
	"Antioquia":          {"Medellín", "Turbo", "Apartadó", "Caucasia", "Dabeiba", "Ituango"},
	"Arauca":             {"Arauca", "Tame", "Saravena"},
	"Atlántico":          {"Barranquilla", "Soledad"},
	"Bogotá":             nil,
	"Bolívar":            {"Cartagena", "El Carmen de Bolívar", "San Pablo"},
	"Boyacá":             {"Tunja", "Sogamoso"},
	"Caldas":             {"Manizales", "Samaná"},
	"Caquetá":            {"Florencia", "San Vicente del Caguán"},
	"Casanare":           {"Yopal"},
	"Cauca":              {"Popayán", "El Tambo", "Argelia", "Patía"},
	"Cesar":              {"Valledupar", "Aguachica"},
	"Chocó":              {"Quibdó", "Riosucio", "Bojayá", "Istmina"},
	"Córdoba":            {"Montería", "Tierralta", "Valencia"},
	"Cundinamarca":       {"Soacha", "Fusagasugá"},
	"Guainía":            {"Inírida"},
	"Guaviare":           {"San José del Guaviare"},
	"Huila":              {"Neiva", "Pitalito"},
	"La Guajira":         {"Riohacha", "Maicao"},
	"Magdalena":          {"Santa Marta", "Ciénaga", "Fundación"},
	"Meta":               {"Villavicencio", "Vistahermosa", "Mapiripán", "La Macarena"},
	"Nariño":             {"Pasto", "Tumaco", "Barbacoas"},
	"Norte de Santander": {"Cúcuta", "Tibú", "Ocaña", "El Tarra"},
	"Putumayo":           {"Mocoa", "Puerto Asís", "Valle del Guamuez"},
	"Quindío":            {"Armenia"},
	"Risaralda":          {"Pereira"},
	"San Andrés":         nil,
	"Santander":          {"Bucaramanga", "Barrancabermeja"},
	"Sucre":              {"Sincelejo", "Ovejas", "San Onofre"},
	"Tolima":             {"Ibagué", "Chaparral", "Planadas"},
	"Valle del Cauca":    {"Cali", "Buenaventura", "Tuluá", "Jamundí"},
	"Vaupés":             {"Mitú"},
	"Vichada":            {"Puerto Carreño"},
}
