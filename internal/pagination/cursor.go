// Package pagination implements the keyset cursor used by every list
// endpoint: rows are ordered by (created_at DESC, id DESC) and a cursor is
// "<unix nanos>:<id>" of the last row returned.
package pagination

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Page is one page of a newest-first listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	Cached     bool   `json:"cached"`
}

func Parse(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", errors.New("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid cursor id")
	}
	return time.Unix(0, n).UTC(), parts[1], nil
}

func Encode(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}

// Newer reports whether (ts, id) sorts before (ots, oid) in newest-first order.
func Newer(ts time.Time, id string, ots time.Time, oid string) bool {
	if ts.Equal(ots) {
		return id > oid
	}
	return ts.After(ots)
}

// Slice pages an in-memory slice the same way the SQL listing does. key
// returns the created_at and id of an item. items is sorted in place.
func Slice[T any](items []T, cursor string, limit int, key func(T) (time.Time, string)) (Page[T], error) {
	cursorTime, cursorID, err := Parse(cursor)
	if err != nil {
		return Page[T]{}, err
	}
	sort.Slice(items, func(i, j int) bool {
		ti, ii := key(items[i])
		tj, ij := key(items[j])
		return Newer(ti, ii, tj, ij)
	})
	if !cursorTime.IsZero() {
		filtered := items[:0]
		for _, it := range items {
			ts, id := key(it)
			if Newer(cursorTime, cursorID, ts, id) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	page := Page[T]{Items: make([]T, 0, min(len(items), limit))}
	if len(items) <= limit {
		page.Items = append(page.Items, items...)
		return page, nil
	}
	page.Items = append(page.Items, items[:limit]...)
	ts, id := key(items[limit-1])
	page.NextCursor = Encode(ts, id)
	return page, nil
}

// Trim cuts a SQL result fetched with LIMIT limit+1 down to limit and sets
// the next cursor when there was an extra row.
func Trim[T any](items []T, limit int, key func(T) (time.Time, string)) Page[T] {
	page := Page[T]{Items: items}
	if len(items) > limit {
		ts, id := key(items[limit-1])
		page.Items = items[:limit]
		page.NextCursor = Encode(ts, id)
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
