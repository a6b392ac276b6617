// Package listing parses pagination parameters and shapes paged results.
package listing

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ukydev/fleet-inoperability/internal/db"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params are the pagination and ordering inputs of a list call.
type Params struct {
	Page  int
	Limit int
	Sort  string
	Order string
}

// ParseParams reads _page, _limit, _sort and _order. Values that do not
// parse, or are out of range, fall back to the defaults.
func ParseParams(q url.Values) Params {
	p := Params{Page: DefaultPage, Limit: DefaultLimit}
	if v, err := strconv.Atoi(q.Get("_page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("_limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	p.Sort = strings.TrimSpace(q.Get("_sort"))
	p.Order = strings.TrimSpace(q.Get("_order"))
	return p
}

// Desc reports whether the order is exactly "desc", ignoring case.
func (p Params) Desc() bool {
	return strings.EqualFold(p.Order, "desc")
}

// SortFields maps public sort names to storage field names.
type SortFields map[string]string

// Resolve returns the storage sort for p, or nil when p.Sort is not allowed.
func (s SortFields) Resolve(p Params) *db.Sort {
	field, ok := s[p.Sort]
	if !ok {
		return nil
	}
	return &db.Sort{Field: field, Desc: p.Desc()}
}

// Query assembles the store query for one page.
func (s SortFields) Query(p Params, f db.Filter) db.Query {
	p = p.normalized()
	return db.Query{
		Filter: f,
		Sort:   s.Resolve(p),
		Skip:   int64((p.Page - 1) * p.Limit),
		Limit:  int64(p.Limit),
	}
}

func (p Params) normalized() Params {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	TotalItems   int64 `json:"totalItems"`
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	ItemsPerPage int   `json:"itemsPerPage"`
	HasNextPage  bool  `json:"hasNextPage"`
	HasPrevPage  bool  `json:"hasPrevPage"`
}

// NewMeta computes page metadata for total items at p.
func NewMeta(total int64, p Params) Meta {
	p = p.normalized()
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Meta{
		TotalItems:   total,
		CurrentPage:  p.Page,
		TotalPages:   pages,
		ItemsPerPage: p.Limit,
		HasNextPage:  p.Page < pages,
		HasPrevPage:  p.Page > 1,
	}
}

// Page is one page of results with its metadata.
type Page[T any] struct {
	Items []T
	Meta  Meta
}

// Paginate wraps items fetched with p into a Page.
func Paginate[T any](items []T, total int64, p Params) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	return Page[T]{Items: items, Meta: NewMeta(total, p)}
}
