package assessment

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed variants/*.yaml
var embeddedVariants embed.FS

// Catalog is the set of loaded variants in file-name order.
type Catalog struct {
	order []string
	byID  map[string]*Variant
}

// NewCatalog validates and indexes variants.
func NewCatalog(variants ...*Variant) (*Catalog, error) {
	c := &Catalog{byID: map[string]*Variant{}}
	for _, v := range variants {
		if err := normalizeVariant(v); err != nil {
			return nil, err
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("variant %s: duplicate id", v.ID)
		}
		c.byID[v.ID] = v
		c.order = append(c.order, v.ID)
	}
	return c, nil
}

// Get returns the variant with the given id.
func (c *Catalog) Get(id string) (*Variant, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// List returns variants in load order.
func (c *Catalog) List() []*Variant {
	out := make([]*Variant, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

type variantFile struct {
	name string
	data []byte
}

// LoadCatalog reads variant definitions from dir, falling back to the embedded files.
func LoadCatalog(dir string) (*Catalog, error) {
	files, err := loadVariantFiles(dir)
	if err != nil {
		return nil, err
	}
	variants := make([]*Variant, 0, len(files))
	for _, f := range files {
		var v Variant
		if err := yaml.Unmarshal(f.data, &v); err != nil {
			return nil, fmt.Errorf("parse variant %s: %w", f.name, err)
		}
		variants = append(variants, &v)
	}
	return NewCatalog(variants...)
}

func loadVariantFiles(dir string) ([]variantFile, error) {
	var files []variantFile
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || !isYAML(entry.Name()) {
					continue
				}
				content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
				if err != nil {
					return nil, fmt.Errorf("read variant %s: %w", entry.Name(), err)
				}
				files = append(files, variantFile{name: entry.Name(), data: content})
			}
			sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
			return files, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read variants: %w", err)
		}
	}

	entries, err := embeddedVariants.ReadDir("variants")
	if err != nil {
		return nil, fmt.Errorf("read embedded variants: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		content, err := embeddedVariants.ReadFile("variants/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded variant %s: %w", entry.Name(), err)
		}
		files = append(files, variantFile{name: entry.Name(), data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// normalizeVariant fills derived rules and checks the definition is consistent.
func normalizeVariant(v *Variant) error {
	if v.ID == "" {
		return errors.New("variant without id")
	}
	if len(v.Questions) == 0 {
		return fmt.Errorf("variant %s: no questions", v.ID)
	}
	if len(v.Bands) == 0 {
		return fmt.Errorf("variant %s: no bands", v.ID)
	}
	for i := 1; i < len(v.Bands); i++ {
		if v.Bands[i].Min >= v.Bands[i-1].Min {
			return fmt.Errorf("variant %s: bands must be strictly descending (%s after %s)", v.ID, v.Bands[i].Label, v.Bands[i-1].Label)
		}
	}
	topics := map[string]bool{}
	for _, t := range v.Topics {
		if t.RemediateWhen != "" && t.RemediateWhen != "below" && t.RemediateWhen != "above" {
			return fmt.Errorf("variant %s: topic %s: remediate_when must be below or above", v.ID, t.Name)
		}
		topics[t.Name] = true
	}
	seen := map[string]bool{}
	for i := range v.Questions {
		q := &v.Questions[i]
		if q.ID == "" || seen[q.ID] {
			return fmt.Errorf("variant %s: question %d: missing or duplicate id %q", v.ID, i, q.ID)
		}
		seen[q.ID] = true
		if q.Topic != "" && !topics[q.Topic] {
			return fmt.Errorf("variant %s: question %s: undeclared topic %q", v.ID, q.ID, q.Topic)
		}
		if q.Rule == "" {
			q.Rule = defaultRule(*q)
		}
		if err := checkRule(*q); err != nil {
			return fmt.Errorf("variant %s: question %s: %w", v.ID, q.ID, err)
		}
	}
	learning := map[string]bool{}
	for _, it := range v.Learning {
		if it.ID == "" || learning[it.ID] {
			return fmt.Errorf("variant %s: missing or duplicate learning item %q", v.ID, it.ID)
		}
		learning[it.ID] = true
	}
	return nil
}

func defaultRule(q Question) Rule {
	switch q.Type {
	case TypeScale:
		return RuleSum
	case TypeSingleChoice, TypeMultiSelect:
		if len(q.Correct) > 0 {
			return RuleCorrect
		}
	case TypeText:
		if q.Weight > 0 {
			return RulePresence
		}
	}
	return RuleNone
}

func checkRule(q Question) error {
	switch q.Type {
	case TypeScale:
		if q.Max <= q.Min {
			return fmt.Errorf("scale range %d..%d is empty", q.Min, q.Max)
		}
		if q.Rule != RuleSum && q.Rule != RuleFlag && q.Rule != RuleNone {
			return fmt.Errorf("rule %s does not apply to scale questions", q.Rule)
		}
	case TypeSingleChoice, TypeMultiSelect:
		if q.Rule != RuleCorrect && q.Rule != RuleNone {
			return fmt.Errorf("rule %s does not apply to choice questions", q.Rule)
		}
		if q.Type == TypeSingleChoice && len(q.Correct) > 1 {
			return errors.New("single choice question with several correct answers")
		}
		for _, c := range q.Correct {
			if !contains(q.Options, c) {
				return fmt.Errorf("correct answer %q is not an option", c)
			}
		}
	case TypeText:
		if q.Rule != RulePresence && q.Rule != RuleNone {
			return fmt.Errorf("rule %s does not apply to text questions", q.Rule)
		}
	default:
		return fmt.Errorf("unknown response type %q", q.Type)
	}
	if q.Rule == RuleCorrect && len(q.Correct) == 0 {
		return errors.New("correct rule without correct answers")
	}
	return nil
}
