package pagination

import (
	"encoding/base64"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

var ErrInvalidCursor = errors.New("cursor does not hold a row id")

// Pagination is a forward-only window over rows ordered by snowflake id.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// Size clamps Limit into [1, MaxLimit], defaulting to DefaultLimit.
func (p Pagination) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// After returns the id the next window starts after, or "" for the first page.
func (p Pagination) After() (string, error) {
	if p.Cursor == "" {
		return "", nil
	}
	return DecodeCursor(p.Cursor)
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(id string) string {
	if id == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func DecodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", ErrInvalidCursor
	}
	id, err := snowflake.ParseString(string(b))
	if err != nil {
		return "", ErrInvalidCursor
	}
	return id.String(), nil
}

// Page trims rows fetched with one extra row of lookahead down to the window
// and reports where the next window starts.
func Page[T any](rows []*T, p Pagination, id func(*T) string) ([]*T, *PageInfo) {
	size := p.Size()
	if len(rows) <= size {
		return rows, &PageInfo{}
	}
	rows = rows[:size]
	return rows, &PageInfo{HasMore: true, NextCursor: EncodeCursor(id(rows[size-1]))}
}
