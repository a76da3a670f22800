package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// PaginationParams is a keyset cursor over descending row IDs.
type PaginationParams struct {
	Limit  int
	Before int64
}

type CursorResponse struct {
	Data       interface{} `json:"data"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

func ParsePagination(c *gin.Context) PaginationParams {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = l
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		if id, err := strconv.ParseInt(beforeStr, 10, 64); err == nil && id > 0 {
			p.Before = id
		}
	}

	return p
}

// CacheKey renders the cursor for use in a cache key.
func (p PaginationParams) CacheKey() string {
	return strconv.Itoa(p.Limit) + ":" + strconv.FormatInt(p.Before, 10)
}

// page trims rows fetched with Limit+1 and sets the next cursor from the last
// kept row.
func page[T any](rows []T, p PaginationParams, id func(T) int64) CursorResponse {
	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}
	var next string
	if hasMore && len(rows) > 0 {
		next = strconv.FormatInt(id(rows[len(rows)-1]), 10)
	}
	if rows == nil {
		rows = []T{}
	}
	return CursorResponse{Data: rows, NextCursor: next, HasMore: hasMore}
}
