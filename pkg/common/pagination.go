package common

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// CursorParams carries the paging inputs of a list request. Cursors
// are opaque to callers; internally they encode the next offset.
type CursorParams struct {
	Limit  int
	Offset int
	Sort   string
	Order  string
}

// DefaultCursorParams returns the paging defaults for list requests
func DefaultCursorParams() CursorParams {
	return CursorParams{
		Limit: 20,
		Sort:  "created",
		Order: "desc",
	}
}

// sortableFields are the topic orderings list requests may ask for
var sortableFields = map[string]bool{
	"created": true,
	"updated": true,
	"title":   true,
}

// ExtractCursorParams reads limit, cursor, sort and order from the
// query string. A malformed cursor restarts the listing from the top.
func ExtractCursorParams(r *http.Request) CursorParams {
	params := DefaultCursorParams()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			if n > 100 {
				n = 100 // Max page size
			}
			params.Limit = n
		}
	}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		if offset, err := DecodeCursor(cursor); err == nil {
			params.Offset = offset
		}
	}

	if sort := r.URL.Query().Get("sort"); sortableFields[sort] {
		params.Sort = sort
	}

	if order := r.URL.Query().Get("order"); order == "asc" || order == "desc" {
		params.Order = order
	}

	return params
}

// EncodeCursor wraps an offset in an opaque token
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("o:%d", offset)))
}

// DecodeCursor unwraps a token produced by EncodeCursor
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	value, ok := strings.CutPrefix(string(raw), "o:")
	if !ok {
		return 0, fmt.Errorf("malformed cursor")
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed cursor")
	}
	return offset, nil
}

// NextCursor returns the token for the page after this one, or ""
// when the page came back short and the listing is done.
func (p CursorParams) NextCursor(returned int) string {
	if returned < p.Limit {
		return ""
	}
	return EncodeCursor(p.Offset + returned)
}

// BuildPaginationMeta builds paging metadata for a returned page
func BuildPaginationMeta(p CursorParams, returned int) *PaginationInfo {
	return &PaginationInfo{
		Limit:      p.Limit,
		Count:      returned,
		NextCursor: p.NextCursor(returned),
	}
}
