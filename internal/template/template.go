// Package template holds the generation template and rewrite tool catalog.
//
// A template is an ordered list of section descriptors with typed fields.
// The catalog is validated once when loaded; call sites never re-check shape.
package template

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/inkwell/internal/errors"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Field types.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldSelect   = "select"
)

// Catalog is the set of templates and tools.
type Catalog struct {
	Templates []*Template `yaml:"templates" validate:"dive"`
	Tools     []*Tool     `yaml:"tools" validate:"dive"`
}

// Template is an ordered list of sections.
type Template struct {
	ID          string     `yaml:"id" json:"id" validate:"required,max=64,ident"`
	Name        string     `yaml:"name" json:"name" validate:"required"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []*Section `yaml:"sections" json:"sections" validate:"required,min=1,dive"`
}

// Section is one step of a template.
type Section struct {
	ID     string `yaml:"id" json:"id" validate:"required,max=64,ident"`
	Title  string `yaml:"title" json:"title" validate:"required"`
	Prompt string `yaml:"prompt" json:"prompt" validate:"required"`

	// Context lists earlier sections whose generated content is passed along.
	Context []string `yaml:"context,omitempty" json:"context,omitempty"`

	Fields []*Field `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive"`
}

// Field is one form input of a section.
type Field struct {
	ID       string   `yaml:"id" json:"id" validate:"required,max=64,ident"`
	Label    string   `yaml:"label" json:"label" validate:"required"`
	Type     string   `yaml:"type" json:"type" validate:"required,oneof=text textarea select"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Options  []string `yaml:"options,omitempty" json:"options,omitempty" validate:"required_if=Type select"`
}

// Tool is a single-shot rewrite applied to the selected text.
type Tool struct {
	ID     string `yaml:"id" json:"id" validate:"required,max=64,ident"`
	Name   string `yaml:"name" json:"name" validate:"required"`
	Prompt string `yaml:"prompt" json:"prompt" validate:"required"`
}

var (
	identPattern       = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z][a-z0-9_]*)\s*\}\}`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	return v
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtinCatalog)
}

// Load returns the built-in catalog merged with every *.yaml file in dir.
// Entries in dir replace built-in entries with the same id. An empty dir
// returns the built-in catalog.
func Load(dir string) (*Catalog, error) {
	c, err := Builtin()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		overlay, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		c.merge(overlay)
	}
	return c, nil
}

func (c *Catalog) merge(o *Catalog) {
	for _, t := range o.Templates {
		if i := c.templateIndex(t.ID); i >= 0 {
			c.Templates[i] = t
		} else {
			c.Templates = append(c.Templates, t)
		}
	}
	for _, tool := range o.Tools {
		replaced := false
		for i, existing := range c.Tools {
			if existing.ID == tool.ID {
				c.Tools[i] = tool
				replaced = true
				break
			}
		}
		if !replaced {
			c.Tools = append(c.Tools, tool)
		}
	}
}

// Validate checks struct tags and cross-references: unique ids, context
// naming earlier sections only, and placeholders naming declared fields.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	seen := make(map[string]bool)
	for _, t := range c.Templates {
		if seen[t.ID] {
			return fmt.Errorf("invalid catalog: duplicate template id %q", t.ID)
		}
		seen[t.ID] = true
		if err := t.validate(); err != nil {
			return fmt.Errorf("invalid catalog: template %q: %w", t.ID, err)
		}
	}

	seenTools := make(map[string]bool)
	for _, tool := range c.Tools {
		if seenTools[tool.ID] {
			return fmt.Errorf("invalid catalog: duplicate tool id %q", tool.ID)
		}
		seenTools[tool.ID] = true
	}
	return nil
}

func (t *Template) validate() error {
	earlier := make(map[string]bool)
	for i, s := range t.Sections {
		if earlier[s.ID] {
			return fmt.Errorf("duplicate section id %q", s.ID)
		}
		for _, ref := range s.Context {
			if !earlier[ref] {
				return fmt.Errorf("section %q: context %q is not an earlier section", s.ID, ref)
			}
		}

		fields := make(map[string]bool)
		for _, f := range s.Fields {
			if fields[f.ID] {
				return fmt.Errorf("section %q: duplicate field id %q", s.ID, f.ID)
			}
			fields[f.ID] = true
		}
		for _, m := range placeholderPattern.FindAllStringSubmatch(s.Prompt, -1) {
			if !fields[m[1]] {
				return fmt.Errorf("section %d (%q): placeholder {{%s}} names no field", i, s.ID, m[1])
			}
		}
		earlier[s.ID] = true
	}
	return nil
}

func (c *Catalog) templateIndex(id string) int {
	for i, t := range c.Templates {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Template returns the template with id, or NOT_FOUND.
func (c *Catalog) Template(id string) (*Template, error) {
	if i := c.templateIndex(id); i >= 0 {
		return c.Templates[i], nil
	}
	return nil, errors.NewNotFound("template", id)
}

// Tool returns the tool with id, or NOT_FOUND.
func (c *Catalog) Tool(id string) (*Tool, error) {
	for _, tool := range c.Tools {
		if tool.ID == id {
			return tool, nil
		}
	}
	return nil, errors.NewNotFound("tool", id)
}

// Section returns the section at idx, or INVALID_REQUEST when out of range.
func (t *Template) Section(idx int) (*Section, error) {
	if idx < 0 || idx >= len(t.Sections) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("section index %d out of range [0,%d)", idx, len(t.Sections)))
	}
	return t.Sections[idx], nil
}

// SectionIndex returns the position of sectionID, or -1.
func (t *Template) SectionIndex(sectionID string) int {
	for i, s := range t.Sections {
		if s.ID == sectionID {
			return i
		}
	}
	return -1
}

// CheckForm reports INVALID_REQUEST when a required field is blank or a
// select value is not one of its options.
func (s *Section) CheckForm(formData map[string]string) error {
	for _, f := range s.Fields {
		v := strings.TrimSpace(formData[f.ID])
		if f.Required && v == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("section %q: field %q is required", s.ID, f.ID))
		}
		if f.Type == FieldSelect && v != "" && !slices.Contains(f.Options, v) {
			return errors.NewInvalidRequest(fmt.Sprintf("section %q: field %q must be one of %s", s.ID, f.ID, strings.Join(f.Options, ", ")))
		}
	}
	return nil
}

// Compose builds the generation prompt for section idx: the section prompt
// with placeholders filled from formData, followed by the generated content
// of the sections it lists as context. prior maps section id to generated
// content; context sections without content are omitted.
func (t *Template) Compose(idx int, formData, prior map[string]string) (string, error) {
	s, err := t.Section(idx)
	if err != nil {
		return "", err
	}
	if err := s.CheckForm(formData); err != nil {
		return "", err
	}

	prompt := placeholderPattern.ReplaceAllStringFunc(s.Prompt, func(m string) string {
		id := placeholderPattern.FindStringSubmatch(m)[1]
		return strings.TrimSpace(formData[id])
	})

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(prompt))

	wroteHeader := false
	for _, ref := range s.Context {
		content := strings.TrimSpace(prior[ref])
		if content == "" {
			continue
		}
		if !wroteHeader {
			sb.WriteString("\n\nEarlier sections of this document:")
			wroteHeader = true
		}
		title := ref
		if i := t.SectionIndex(ref); i >= 0 {
			title = t.Sections[i].Title
		}
		fmt.Fprintf(&sb, "\n\n## %s\n\n%s", title, content)
	}
	return sb.String(), nil
}
