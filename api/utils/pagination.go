package utils

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"CarteraDash/api/constants"
)

type PaginationParams struct {
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	Offset       int `json:"offset"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
}

// ExtractPagination reads page and limit from the query string. defLimit applies when
// limit is absent; invalid values are an error.
func ExtractPagination(r *http.Request, defLimit int) (PaginationParams, error) {
	if defLimit <= 0 {
		defLimit = 10
	}
	params := PaginationParams{
		Page:  1,
		Limit: defLimit,
	}

	if p := r.URL.Query().Get(constants.ParamPage); p != "" {
		val, err := strconv.Atoi(p)
		if err != nil || val <= 0 {
			return PaginationParams{}, fmt.Errorf("invalid page parameter: %s", p)
		}
		params.Page = val
	}
	if l := r.URL.Query().Get(constants.ParamLimit); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 {
			return PaginationParams{}, fmt.Errorf("invalid limit parameter: %s", l)
		}
		params.Limit = val
	}
	params.Offset = (params.Page - 1) * params.Limit
	return params, nil
}

func (p *PaginationParams) SetPaginationStats(totalRecords int) {
	p.TotalRecords = totalRecords
	if totalRecords > 0 {
		p.TotalPages = int(math.Ceil(float64(totalRecords) / float64(p.Limit)))
	} else {
		p.TotalPages = 0
	}
}
