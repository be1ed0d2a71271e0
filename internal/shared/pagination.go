package shared

// Pagination describes where a listing page sits in the full result.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata. Non-positive inputs fall back
// to the first page of twenty.
func NewPagination(page, pageSize, total int) Pagination {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: (total + pageSize - 1) / pageSize}
}
