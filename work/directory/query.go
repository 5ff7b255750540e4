package directory

import (
	"net/url"
	"strconv"
	"strings"
)

// Query is one directory search. Zero values mean "not filtered".
type Query struct {
	Name    string
	Tag     string
	Country string
	Limit   int
	Offset  int
}

// normalize lower-cases the text filters and fills the paging defaults
func (q Query) normalize(defaultLimit int) Query {
	q.Name = strings.ToLower(strings.TrimSpace(q.Name))
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	q.Country = strings.TrimSpace(q.Country)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// values renders the query in the form the directory search endpoint expects
func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("name", q.Name)
	v.Set("tag", q.Tag)
	v.Set("country", q.Country)
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("hidebroken", "true")
	v.Set("order", "clickcount")
	v.Set("reverse", "true")
	return v
}

// Key is the cache key for the query. Two queries that differ only in
// letter case or surrounding spaces of name and tag share a key.
func (q Query) Key(defaultLimit int) string {
	n := q.normalize(defaultLimit)
	v := url.Values{}
	v.Set("name", n.Name)
	v.Set("tag", n.Tag)
	v.Set("country", n.Country)
	v.Set("limit", strconv.Itoa(n.Limit))
	v.Set("offset", strconv.Itoa(n.Offset))

	// Encode sorts by key
	return v.Encode()
}
