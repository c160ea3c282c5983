// Package pagination pages through listings returned by the admin API.
package pagination

import (
	"net/http"
	"strconv"

	"cache-manager/internal/common/errors"
)

const (
	// DefaultPerPage is used when per_page is absent
	DefaultPerPage = 50
	// MaxPerPage caps per_page
	MaxPerPage = 500
)

// Params is a requested page, 1 based
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// offset is the index of the first item on the page
func (p Params) offset() int {
	return (p.Page - 1) * p.PerPage
}

// Response is one page of results
type Response[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// ParseParams reads page and per_page from the query string. Missing values
// fall back to defaults, per_page above MaxPerPage is clamped, and anything
// that is not a positive integer is rejected.
func ParseParams(r *http.Request) (Params, error) {
	query := r.URL.Query()
	params := Params{Page: 1, PerPage: DefaultPerPage}

	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, errors.ValidationError("page must be a positive integer")
		}
		params.Page = page
	}

	if raw := query.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 {
			return Params{}, errors.ValidationError("per_page must be a positive integer")
		}
		params.PerPage = min(perPage, MaxPerPage)
	}

	return params, nil
}

// Paginate cuts the requested page out of items. A page past the end is
// empty, not an error.
func Paginate[T any](items []T, params Params) Response[T] {
	start := min(params.offset(), len(items))
	end := min(start+params.PerPage, len(items))

	return Response[T]{
		Page:         params.Page,
		PerPage:      params.PerPage,
		TotalPages:   TotalPages(len(items), params.PerPage),
		TotalResults: len(items),
		Results:      items[start:end],
	}
}

// TotalPages is the number of pages needed for total items, at least one
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return max(1, (total+perPage-1)/perPage)
}
