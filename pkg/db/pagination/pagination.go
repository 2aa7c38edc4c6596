package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" binding:"omitempty,gte=1,lte=250"`
}

// Size is the page size with the default and the ceiling applied.
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

// After returns the id the page starts after, empty for the first page.
func (p Pagination) After() (string, error) {
	if p.Cursor == "" {
		return "", nil
	}
	c, err := DecodeCursor(p.Cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return "", ErrInvalidCursor
	}
	return c.ID, nil
}

type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Page trims rows fetched with one extra record down to size and points the
// next cursor at the last row kept.
func Page[T any](rows []*T, size int, id func(*T) string) ([]*T, *PageInfo, error) {
	if len(rows) <= size {
		return rows, &PageInfo{}, nil
	}

	rows = rows[:size]
	next, err := EncodeCursor(Cursor{ID: id(rows[len(rows)-1])})
	if err != nil {
		return nil, nil, err
	}

	return rows, &PageInfo{NextCursor: next, HasMore: true}, nil
}
