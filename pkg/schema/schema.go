// Package schema holds the declarative description of the tables the agent
// may query, and renders it into the text block embedded in model prompts.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed customer.yaml
var defaultYAML []byte

// Column is a scalar column. Type is the store's native type name.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Relation is a navigable link from one table to another. Many marks the
// one-to-many side; otherwise the relation is many-to-one.
type Relation struct {
	Field  string `yaml:"field"`
	Target string `yaml:"target"`
	Many   bool   `yaml:"many"`
}

type Table struct {
	Name      string     `yaml:"name"`
	Columns   []Column   `yaml:"columns"`
	Relations []Relation `yaml:"relations"`
}

// Descriptor is an ordered set of tables. Order is preserved in Describe.
type Descriptor struct {
	Tables []Table `yaml:"tables"`
}

var (
	defaultDescriptor     *Descriptor
	defaultDescriptorOnce sync.Once
	defaultDescriptorErr  error
)

// Default returns the embedded customer/address/order schema.
// It's safe to call concurrently.
func Default() (*Descriptor, error) {
	defaultDescriptorOnce.Do(func() {
		defaultDescriptor, defaultDescriptorErr = parse(defaultYAML)
	})
	return defaultDescriptor, defaultDescriptorErr
}

// Load reads a YAML schema from r.
func Load(r io.Reader) (*Descriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return parse(data)
}

// LoadFile reads a YAML schema from path.
func LoadFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) Validate() error {
	if len(d.Tables) == 0 {
		return errors.New("schema has no tables")
	}
	names := make(map[string]struct{}, len(d.Tables))
	for _, t := range d.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("table name is required")
		}
		key := strings.ToLower(t.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		names[key] = struct{}{}
		for i, c := range t.Columns {
			if strings.TrimSpace(c.Name) == "" {
				return fmt.Errorf("table %q: column %d name is required", t.Name, i)
			}
		}
	}
	for _, t := range d.Tables {
		for _, r := range t.Relations {
			if strings.TrimSpace(r.Field) == "" {
				return fmt.Errorf("table %q: relation field is required", t.Name)
			}
			if _, ok := names[strings.ToLower(r.Target)]; !ok {
				return fmt.Errorf("table %q: relation %q targets unknown table %q", t.Name, r.Field, r.Target)
			}
		}
	}
	return nil
}

// Describe renders the schema as prompt text. The output is stable for a
// given Descriptor.
func (d *Descriptor) Describe() string {
	var sb strings.Builder
	for _, t := range d.Tables {
		sb.WriteString("Table: " + t.Name + "\n")
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, fmt.Sprintf("%s (%s)", c.Name, MapType(c.Type)))
		}
		sb.WriteString("Columns: " + strings.Join(cols, ", ") + "\n\n")
	}

	sb.WriteString("Relationships:\n")
	for _, t := range d.Tables {
		source := strings.ToLower(t.Name)
		for _, r := range t.Relations {
			target := strings.ToLower(r.Target)
			if r.Many {
				fmt.Fprintf(&sb, "- %s has many %s (one-to-many relationship via %s)\n", source, target, r.Field)
			} else {
				fmt.Fprintf(&sb, "- %s belongs to %s (many-to-one relationship via %s)\n", source, target, r.Field)
			}
		}
	}
	return sb.String()
}

// Table returns the table with the given name, case-insensitively.
func (d *Descriptor) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

var typeVocabulary = map[string]string{
	// ORM-style names.
	"int":      "integer",
	"bigint":   "integer",
	"string":   "string",
	"boolean":  "boolean",
	"datetime": "date",
	"float":    "decimal",
	"decimal":  "decimal",

	// PostgreSQL names.
	"integer":                     "integer",
	"smallint":                    "integer",
	"int2":                        "integer",
	"int4":                        "integer",
	"int8":                        "integer",
	"serial":                      "integer",
	"bigserial":                   "integer",
	"text":                        "string",
	"varchar":                     "string",
	"character varying":           "string",
	"char":                        "string",
	"character":                   "string",
	"uuid":                        "string",
	"bool":                        "boolean",
	"date":                        "date",
	"timestamp":                   "date",
	"timestamptz":                 "date",
	"timestamp with time zone":    "date",
	"timestamp without time zone": "date",
	"numeric":                     "decimal",
	"real":                        "decimal",
	"float4":                      "decimal",
	"float8":                      "decimal",
	"double precision":            "decimal",
	"money":                       "decimal",
}

// MapType maps a native type name onto integer, string, boolean, date or
// decimal. Length and precision modifiers are ignored. Unknown types map to
// string.
func MapType(native string) string {
	t := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i != -1 {
		t = strings.TrimSpace(t[:i])
	}
	if v, ok := typeVocabulary[t]; ok {
		return v
	}
	return "string"
}
