package utils

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

// ParsePaginationParams reads page and per_page, defaulting to the first
// page and capping per_page.
func ParsePaginationParams(r *http.Request) (int, int, error) {
	query := r.URL.Query()

	page := 1
	if raw := query.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, NewError(http.StatusBadRequest, "invalid page parameter")
		}
		page = parsed
	}

	perPage := DefaultPerPage
	if raw := query.Get("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, NewError(http.StatusBadRequest, "invalid per_page parameter")
		}
		perPage = parsed
		if perPage > MaxPerPage {
			perPage = MaxPerPage
		}
	}

	return page, perPage, nil
}

func NewPaginationMeta(page, perPage int, total int64) PaginationMeta {
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return PaginationMeta{
		CurrentPage: page,
		PerPage:     perPage,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
	}
}

func Offset(page, perPage int) int {
	return (page - 1) * perPage
}
