package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Query composes a request against one collection. Filters follow the
// store's REST conventions: `col=eq.v`, `col=lt.v`, `col=ilike.pat`,
// `order=col.desc`, `limit=n`, with one level of relational embedding in
// the select projection (e.g. `*, user:user_id (username)`).
type Query struct {
	c       *Client
	table   string
	params  url.Values
	single  bool
	headers map[string]string
}

func newQuery(c *Client, table string) *Query {
	return &Query{
		c:       c,
		table:   table,
		params:  url.Values{},
		headers: map[string]string{},
	}
}

// Select sets the column projection, including embedded relations.
func (q *Query) Select(projection string) *Query {
	q.params.Set("select", collapseProjection(projection))
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(column, value string) *Query {
	q.params.Add(column, "eq."+value)
	return q
}

// In filters a column to a set of values.
func (q *Query) In(column string, values []string) *Query {
	q.params.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// Ilike adds a case-insensitive substring match.
func (q *Query) Ilike(column, pattern string) *Query {
	q.params.Add(column, "ilike."+pattern)
	return q
}

// Or adds a disjunction of filters, e.g.
// "username.ilike.%dev%,email.ilike.%dev%".
func (q *Query) Or(filters string) *Query {
	q.params.Set("or", "("+filters+")")
	return q
}

// Lt adds an exclusive upper bound; the chat history cursor uses this
// against created_at.
func (q *Query) Lt(column, value string) *Query {
	q.params.Add(column, "lt."+value)
	return q
}

// Order sorts by a column.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Set("order", column+"."+dir)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", fmt.Sprintf("%d", n))
	return q
}

// Single asks the store for exactly one row; missing rows become an error.
func (q *Query) Single() *Query {
	q.single = true
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

func (q *Query) path() string {
	p := "/rest/v1/" + q.table
	if encoded := q.params.Encode(); encoded != "" {
		p += "?" + encoded
	}
	return p
}

// Get executes the query and decodes rows into dest.
func (q *Query) Get(ctx context.Context, dest any) error {
	return q.c.do(ctx, http.MethodGet, q.path(), q.headers, nil, dest)
}

// Insert writes one or more rows. When dest is non-nil the inserted
// representation is returned and decoded into it.
func (q *Query) Insert(ctx context.Context, body any, dest any) error {
	if dest != nil {
		q.headers["Prefer"] = "return=representation"
	}
	return q.c.do(ctx, http.MethodPost, q.path(), q.headers, body, dest)
}

// Update patches all rows matching the current filters.
func (q *Query) Update(ctx context.Context, patch any, dest any) error {
	if dest != nil {
		q.headers["Prefer"] = "return=representation"
	}
	return q.c.do(ctx, http.MethodPatch, q.path(), q.headers, patch, dest)
}

// Delete removes all rows matching the current filters.
func (q *Query) Delete(ctx context.Context) error {
	return q.c.do(ctx, http.MethodDelete, q.path(), q.headers, nil, nil)
}

// collapseProjection strips the whitespace multi-line projections carry so
// they encode into a single query parameter.
func collapseProjection(projection string) string {
	fields := strings.Fields(projection)
	return strings.Join(fields, "")
}
