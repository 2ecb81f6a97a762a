package library

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// ResultKind tells what a search [Result] points at.
type ResultKind string

const (
	KindItem  ResultKind = "item"
	KindTopic ResultKind = "topic"
)

// Field names the part of a document a result matched on.
type Field string

const (
	FieldTitle   Field = "title"
	FieldAuthor  Field = "author"
	FieldContent Field = "content"
)

// Result is one ranked search hit.
type Result struct {
	Kind  ResultKind
	Title string

	// ItemID is set for item results.
	ItemID string

	// Field is the best-matching field and Sentence the content index when
	// Field is FieldContent, otherwise -1.
	Field    Field
	Sentence int

	// Score lies in (0, 1]; 1 is an exact phrase match.
	Score float64
}

// Thresholds for token matching. Phonetically equal tokens need less string
// similarity than tokens matched on spelling alone.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.88
	minScore          = 0.55
)

// Field weights so that title matches outrank content matches of equal
// quality.
var fieldWeight = map[Field]float64{
	FieldTitle:   1.0,
	FieldAuthor:  0.9,
	FieldContent: 0.8,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "in": true,
	"on": true, "to": true, "is": true, "for": true, "with": true, "about": true,
	"what": true, "how": true, "me": true, "my": true,
}

// term is a normalised token with its Double Metaphone codes.
type term struct {
	text      string
	primary   string
	secondary string
}

func newTerm(s string) term {
	p, sec := matchr.DoubleMetaphone(s)
	return term{text: s, primary: p, secondary: sec}
}

func (t term) soundsLike(o term) bool {
	codes := [2]string{t.primary, t.secondary}
	for _, c := range codes {
		if c != "" && (c == o.primary || c == o.secondary) {
			return true
		}
	}
	return false
}

// entry is one searchable text with its precomputed terms.
type entry struct {
	kind     ResultKind
	itemID   string
	title    string
	field    Field
	sentence int
	phrase   string
	terms    []term
}

type index struct {
	entries []entry
}

func buildIndex(doc document) *index {
	idx := &index{}
	add := func(e entry, text string) {
		e.phrase = normalise(text)
		for _, tok := range strings.Fields(e.phrase) {
			e.terms = append(e.terms, newTerm(tok))
		}
		idx.entries = append(idx.entries, e)
	}
	for _, it := range doc.Items {
		base := entry{kind: KindItem, itemID: it.ID, title: it.Title, sentence: -1}
		add(withField(base, FieldTitle, -1), it.Title)
		if it.Author != "" {
			add(withField(base, FieldAuthor, -1), it.Author)
		}
		for i, s := range it.Content {
			add(withField(base, FieldContent, i), s)
		}
	}
	for _, t := range doc.TrendingTopics {
		add(entry{kind: KindTopic, title: t.Title, field: FieldTitle, sentence: -1}, t.Title)
	}
	return idx
}

func withField(e entry, f Field, sentence int) entry {
	e.field = f
	e.sentence = sentence
	return e
}

// normalise lowercases s and replaces everything but letters, marks and
// digits with spaces. Marks are kept so Devanagari and Tamil words survive.
func normalise(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	}), " ")
}

// Search ranks items and trending topics against query. Each item appears at
// most once, under its best-matching field. Transcribed voice queries with
// spelling drift still match through phonetic and Jaro-Winkler comparison.
func (c *Catalog) Search(query string) []Result {
	q := normalise(query)
	if q == "" {
		return nil
	}
	qterms := queryTerms(q)

	best := make(map[string]Result)
	for _, e := range c.index.entries {
		score := scoreEntry(q, qterms, e) * fieldWeight[e.field]
		if score < minScore {
			continue
		}
		key := string(e.kind) + ":" + e.itemID + ":" + e.title
		if prev, ok := best[key]; ok && prev.Score >= score {
			continue
		}
		best[key] = Result{
			Kind:     e.kind,
			Title:    e.title,
			ItemID:   e.itemID,
			Field:    e.field,
			Sentence: e.sentence,
			Score:    score,
		}
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return out
}

func queryTerms(q string) []term {
	var terms []term
	for _, tok := range strings.Fields(q) {
		if stopwords[tok] {
			continue
		}
		terms = append(terms, newTerm(tok))
	}
	if len(terms) == 0 {
		for _, tok := range strings.Fields(q) {
			terms = append(terms, newTerm(tok))
		}
	}
	return terms
}

// scoreEntry returns 1 for a verbatim phrase hit, otherwise the mean of each
// query term's best match against the entry's terms.
func scoreEntry(q string, qterms []term, e entry) float64 {
	if strings.Contains(e.phrase, q) {
		return 1
	}
	if len(e.terms) == 0 {
		return 0
	}
	var total float64
	for _, qt := range qterms {
		total += bestTermScore(qt, e.terms)
	}
	return total / float64(len(qterms))
}

func bestTermScore(qt term, terms []term) float64 {
	var best float64
	for _, t := range terms {
		if t.text == qt.text {
			return 1
		}
		jw := matchr.JaroWinkler(qt.text, t.text, false)
		switch {
		case qt.soundsLike(t) && jw >= phoneticThreshold:
		case jw >= fuzzyThreshold:
		default:
			continue
		}
		best = max(best, jw)
	}
	return best
}
