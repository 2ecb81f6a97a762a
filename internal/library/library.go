// Package library holds the learner's reading material and the discovery
// content shown around it: suggested tutor questions, trending topics and
// recent searches.
//
// A [Catalog] is built from YAML, either the embedded sample library or a
// file named in the configuration, and is read-only afterwards.
package library

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sample.yaml
var sampleYAML []byte

// ErrNotFound is returned by [Catalog.Get] for an unknown item ID.
var ErrNotFound = errors.New("library: item not found")

// Item is one readable document, split into sentences.
type Item struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Author   string   `yaml:"author"`
	Progress int      `yaml:"progress"`
	CoverURL string   `yaml:"cover_url"`
	LastRead string   `yaml:"last_read"`
	Content  []string `yaml:"content"`
}

// Topic is a trending search topic.
type Topic struct {
	Title    string `yaml:"title"`
	Subtitle string `yaml:"subtitle"`
}

type document struct {
	Items              []Item   `yaml:"items"`
	SuggestedQuestions []string `yaml:"suggested_questions"`
	TrendingTopics     []Topic  `yaml:"trending_topics"`
	RecentSearches     []string `yaml:"recent_searches"`
}

// Catalog is an immutable library. All methods are safe for concurrent use
// and return copies.
type Catalog struct {
	doc   document
	byID  map[string]int
	index *index
}

// Sample returns the built-in library.
func Sample() *Catalog {
	c, err := Parse(bytes.NewReader(sampleYAML))
	if err != nil {
		panic("library: embedded sample is invalid: " + err.Error())
	}
	return c
}

// Load reads a library file. An empty path returns [Sample].
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Sample(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("library: open %q: %w", path, err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("library: %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a library document.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("library: decode yaml: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	c := &Catalog{doc: doc, byID: make(map[string]int, len(doc.Items))}
	for i, it := range doc.Items {
		c.byID[it.ID] = i
	}
	c.index = buildIndex(doc)
	return c, nil
}

func validate(doc document) error {
	var errs []error
	if len(doc.Items) == 0 {
		errs = append(errs, errors.New("library: no items"))
	}
	seen := make(map[string]int, len(doc.Items))
	for i, it := range doc.Items {
		prefix := fmt.Sprintf("items[%d]", i)
		switch prev, dup := seen[it.ID]; {
		case it.ID == "":
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		case dup:
			errs = append(errs, fmt.Errorf("%s.id %q duplicates items[%d]", prefix, it.ID, prev))
		}
		seen[it.ID] = i
		if it.Title == "" {
			errs = append(errs, fmt.Errorf("%s.title is required", prefix))
		}
		if len(it.Content) == 0 {
			errs = append(errs, fmt.Errorf("%s.content must have at least one sentence", prefix))
		}
		if it.Progress < 0 || it.Progress > 100 {
			errs = append(errs, fmt.Errorf("%s.progress %d is out of range [0, 100]", prefix, it.Progress))
		}
	}
	return errors.Join(errs...)
}

// Items returns every item in library order.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.doc.Items))
	for i, it := range c.doc.Items {
		out[i] = it.clone()
	}
	return out
}

// Get returns the item with id.
func (c *Catalog) Get(id string) (Item, error) {
	i, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.doc.Items[i].clone(), nil
}

// Continue returns the item shown as "continue reading": the first one.
func (c *Catalog) Continue() Item { return c.doc.Items[0].clone() }

// SuggestedQuestions returns the tutor's quick questions.
func (c *Catalog) SuggestedQuestions() []string {
	return append([]string(nil), c.doc.SuggestedQuestions...)
}

// TrendingTopics returns the discover screen's topics.
func (c *Catalog) TrendingTopics() []Topic {
	return append([]Topic(nil), c.doc.TrendingTopics...)
}

// RecentSearches returns the recent search chips.
func (c *Catalog) RecentSearches() []string {
	return append([]string(nil), c.doc.RecentSearches...)
}

func (it Item) clone() Item {
	it.Content = append([]string(nil), it.Content...)
	return it
}
