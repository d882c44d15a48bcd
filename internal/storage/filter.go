package storage

import (
	"fmt"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter is the query envelope list endpoints accept: zero-based page, page
// size and exact-match filters keyed by JSON field name.
type Filter struct {
	Page    int               `json:"page"`
	Size    int               `json:"size"`
	Filters map[string]string `json:"filters,omitempty"`
}

// normalize clamps paging to sane bounds.
func (f Filter) normalize() Filter {
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Size > maxPageSize {
		f.Size = maxPageSize
	}
	return f
}

func (f Filter) limit() int  { return f.Size }
func (f Filter) offset() int { return f.Page * f.Size }

// whereClause builds an AND-joined WHERE clause from the filter map using a
// field-to-column whitelist. Unknown fields are rejected rather than
// interpolated. The column name "@domains" marks a TEXT[] membership test.
func (f Filter) whereClause(columns map[string]string) (string, []interface{}, error) {
	if len(f.Filters) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(f.Filters))
	args := make([]interface{}, 0, len(f.Filters))
	for field, value := range f.Filters {
		col, ok := columns[field]
		if !ok {
			return "", nil, fmt.Errorf("storage: unknown filter field '%s'", field)
		}
		args = append(args, value)
		if strings.HasPrefix(col, "@") {
			conds = append(conds, fmt.Sprintf("$%d = ANY(%s)", len(args), strings.TrimPrefix(col, "@")))
		} else {
			// Filter values arrive as strings; compare on the text form so
			// boolean and numeric columns work without per-column casts.
			conds = append(conds, fmt.Sprintf("%s::text = $%d", col, len(args)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
