package audit

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Page       int
	PageSize   int
}

// PagingInfo describes the page returned.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result is one page of timeline rows.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// Repository reads audit_entries.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
}

// Service pages through audit entries.
type Service struct {
	repo Repository
}

// NewService constructs a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries matching filters.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
