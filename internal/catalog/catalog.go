// Package catalog holds the labelled review templates the monitor samples
// new records from.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultYAML []byte

// Sentiment labels a template.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// MinPositiveRating is the lowest rating a positive template may carry.
const MinPositiveRating = 4

// Template is one sample review.
type Template struct {
	Key       string    `yaml:"key"`
	User      string    `yaml:"user"`
	Text      string    `yaml:"text"`
	Rating    int       `yaml:"rating"`
	Sentiment Sentiment `yaml:"sentiment"`
}

// Catalog is an immutable set of templates.
type Catalog struct {
	templates []Template
}

type file struct {
	Templates []Template `yaml:"templates"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML catalog data.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	var errs []error
	seen := make(map[string]bool, len(f.Templates))
	for i, t := range f.Templates {
		switch {
		case t.Key == "":
			errs = append(errs, fmt.Errorf("template %d: key is required", i))
		case strings.Contains(t.Key, "_"):
			errs = append(errs, fmt.Errorf("template %q: key must not contain '_'", t.Key))
		case seen[t.Key]:
			errs = append(errs, fmt.Errorf("template %q: duplicate key", t.Key))
		}
		seen[t.Key] = true
		if strings.TrimSpace(t.Text) == "" {
			errs = append(errs, fmt.Errorf("template %q: text is required", t.Key))
		}
		if t.Rating < 1 || t.Rating > 5 {
			errs = append(errs, fmt.Errorf("template %q: rating %d out of range 1..5", t.Key, t.Rating))
		}
		switch t.Sentiment {
		case Positive:
			if t.Rating < MinPositiveRating {
				errs = append(errs, fmt.Errorf("template %q: positive rating %d below %d", t.Key, t.Rating, MinPositiveRating))
			}
		case Negative, Neutral:
		default:
			errs = append(errs, fmt.Errorf("template %q: unknown sentiment %q", t.Key, t.Sentiment))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Catalog{templates: f.Templates}, nil
}

// New builds a catalog from templates without validation. Intended for tests
// and callers that construct templates in code.
func New(templates ...Template) *Catalog {
	return &Catalog{templates: append([]Template(nil), templates...)}
}

// CheckBatch reports whether every batch the monitor samples can reach
// minBatch records: one positive when mustHavePositive, and the rest drawn
// without replacement from the negative and neutral templates.
func (c *Catalog) CheckBatch(minBatch int, mustHavePositive bool) error {
	positives := len(c.Positive())
	if mustHavePositive && positives == 0 {
		return errors.New("catalog has no positive template but one is required per batch")
	}
	need := minBatch
	if mustHavePositive {
		need--
	}
	need = max(1, need)
	if others := len(c.Others()); others < need {
		return fmt.Errorf("catalog has %d negative or neutral templates, a batch of %d needs %d", others, minBatch, need)
	}
	return nil
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }

// Positive returns the positive templates.
func (c *Catalog) Positive() []Template { return c.filter(func(s Sentiment) bool { return s == Positive }) }

// Others returns the negative and neutral templates.
func (c *Catalog) Others() []Template { return c.filter(func(s Sentiment) bool { return s != Positive }) }

func (c *Catalog) filter(keep func(Sentiment) bool) []Template {
	var out []Template
	for _, t := range c.templates {
		if keep(t.Sentiment) {
			out = append(out, t)
		}
	}
	return out
}
