package xenocanto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Recording represents a single recording entry from the Xeno-canto API
type Recording struct {
	ID         string   `json:"id"`
	Genus      string   `json:"gen"`
	Species    string   `json:"sp"`
	En         string   `json:"en"` // normalized at ingestion, see NormalizeLabel
	Country    string   `json:"cnt"`
	Locality   string   `json:"loc"`
	Type       string   `json:"type"`
	URL        string   `json:"url"`
	File       string   `json:"file"`
	FileName   string   `json:"file-name"`
	License    string   `json:"lic"`
	Quality    string   `json:"q"`
	Length     string   `json:"length"`
	SampleRate string   `json:"smp"`
	Also       []string `json:"also"`
}

// Page is one response of the recordings endpoint. Once assembled by
// FetchComposite it holds every recording of a query and NumPages is 1.
type Page struct {
	NumRecordings int         `json:"numRecordings"`
	NumSpecies    int         `json:"numSpecies"`
	Page          int         `json:"page"`
	NumPages      int         `json:"numPages"`
	Recordings    []Recording `json:"recordings"`
}

func (p *Page) String() string {
	return fmt.Sprintf("(Page %d/%d) numRecordings: %d, totalRecordings: %d, numSpecies: %d",
		p.Page, p.NumPages, len(p.Recordings), p.NumRecordings, p.NumSpecies)
}

// pageResponse mirrors the wire format, where the totals are sometimes
// encoded as strings ("numRecordings": "12").
type pageResponse struct {
	NumRecordings flexInt     `json:"numRecordings"`
	NumSpecies    flexInt     `json:"numSpecies"`
	Page          flexInt     `json:"page"`
	NumPages      flexInt     `json:"numPages"`
	Recordings    []Recording `json:"recordings"`
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

func (r *pageResponse) toPage() *Page {
	p := &Page{
		NumRecordings: int(r.NumRecordings),
		NumSpecies:    int(r.NumSpecies),
		Page:          int(r.Page),
		NumPages:      int(r.NumPages),
		Recordings:    r.Recordings,
	}
	for i := range p.Recordings {
		p.Recordings[i].En = NormalizeLabel(p.Recordings[i].En)
	}
	return p
}

// NormalizeLabel lower-cases a species name and replaces spaces with underscores
func NormalizeLabel(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

// Query is an ordered set of search terms, e.g. grp:1 len:4-6.
// See https://xeno-canto.org/help/search
type Query struct {
	terms []queryTerm
}

type queryTerm struct {
	key   string
	value string
}

// NewQuery builds a query from alternating key/value pairs.
// It panics when given an odd number of arguments.
func NewQuery(kv ...string) Query {
	if len(kv)%2 != 0 {
		panic("xenocanto: NewQuery expects key/value pairs")
	}
	q := Query{terms: make([]queryTerm, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		q.terms = append(q.terms, queryTerm{key: kv[i], value: kv[i+1]})
	}
	return q
}

// ParseQuery parses terms of the form "key:value".
func ParseQuery(terms []string) (Query, error) {
	kv := make([]string, 0, len(terms)*2)
	for _, t := range terms {
		k, v, ok := strings.Cut(t, ":")
		if !ok || k == "" {
			return Query{}, fmt.Errorf("invalid query term %q, expected key:value", t)
		}
		kv = append(kv, k, v)
	}
	return NewQuery(kv...), nil
}

// Len returns the number of terms
func (q Query) Len() int {
	return len(q.terms)
}

// String renders the query the way the API expects it
func (q Query) String() string {
	parts := make([]string, len(q.terms))
	for i, t := range q.terms {
		parts[i] = t.key + ":" + t.value
	}
	return strings.Join(parts, " ")
}

func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}
