package listing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/fleet-inoperability/internal/db"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", Params{Page: 1, Limit: 10}},
		{"explicit", "_page=3&_limit=25&_sort=status&_order=DESC", Params{Page: 3, Limit: 25, Sort: "status", Order: "DESC"}},
		{"limit capped", "_limit=500", Params{Page: 1, Limit: MaxLimit}},
		{"garbage falls back", "_page=abc&_limit=-4", Params{Page: 1, Limit: 10}},
		{"zero page falls back", "_page=0", Params{Page: 1, Limit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ParseParams(q))
		})
	}
}

func TestNewMeta(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		page     int
		wantPage int
		pages    int
		next     bool
		prev     bool
	}{
		{"first of three", 25, 1, 1, 3, true, false},
		{"middle", 25, 2, 2, 3, true, true},
		{"last", 25, 3, 3, 3, false, true},
		{"beyond last", 25, 5, 5, 3, false, true},
		{"exact multiple", 20, 2, 2, 2, false, true},
		{"empty", 0, 1, 1, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMeta(tt.total, Params{Page: tt.page, Limit: 10})
			assert.Equal(t, tt.total, m.TotalItems)
			assert.Equal(t, tt.wantPage, m.CurrentPage)
			assert.Equal(t, tt.pages, m.TotalPages)
			assert.Equal(t, 10, m.ItemsPerPage)
			assert.Equal(t, tt.next, m.HasNextPage)
			assert.Equal(t, tt.prev, m.HasPrevPage)
		})
	}
}

func TestSortFields_Query(t *testing.T) {
	fields := SortFields{"id": "_id", "created_at": "created_at"}

	q := fields.Query(Params{Page: 3, Limit: 10, Sort: "created_at", Order: "Desc"}, db.Where(db.Eq("status", "pending")))
	assert.Equal(t, int64(20), q.Skip)
	assert.Equal(t, int64(10), q.Limit)
	assert.Equal(t, &db.Sort{Field: "created_at", Desc: true}, q.Sort)
	assert.Len(t, q.Filter, 1)

	q = fields.Query(Params{Page: 1, Limit: 10, Sort: "password", Order: "desc"}, nil)
	assert.Nil(t, q.Sort)

	q = fields.Query(Params{Page: 1, Limit: 10, Sort: "id", Order: "sideways"}, nil)
	assert.Equal(t, &db.Sort{Field: "_id"}, q.Sort)
}

func TestPaginate(t *testing.T) {
	page := Paginate[string](nil, 0, Params{Page: 1, Limit: 10})
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	page2 := Paginate([]int{1, 2}, 12, Params{Page: 2, Limit: 2})
	assert.Equal(t, []int{1, 2}, page2.Items)
	assert.Equal(t, 6, page2.Meta.TotalPages)
	assert.True(t, page2.Meta.HasPrevPage)
}
