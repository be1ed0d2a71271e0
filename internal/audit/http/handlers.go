package audithttp

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
	exportLimit       = 5000
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler constructs an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		now:     time.Now,
	}
}

type entryResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	DocNo      string         `json:"doc_no,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Checksum   string         `json:"checksum"`
	Verified   bool           `json:"verified"`
}

type timelineResponse struct {
	Data   []entryResponse  `json:"data"`
	Paging audit.PagingInfo `json:"paging"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "audit timeline unavailable")
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	resp := timelineResponse{Data: make([]entryResponse, 0, len(result.Rows)), Paging: result.Paging}
	for _, e := range result.Rows {
		resp.Data = append(resp.Data, toResponse(e))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "audit export unavailable")
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	filters.Page = 1
	filters.PageSize = maxPageSize

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"timestamp", "actor", "action", "entity_type", "entity_id", "doc_no", "amount", "checksum", "verified"})

	written := 0
	for written < exportLimit {
		result, err := h.service.Timeline(r.Context(), filters)
		if err != nil {
			h.logger.Error("export audit timeline", slog.Any("error", err))
			break
		}
		for _, e := range result.Rows {
			_ = writer.Write([]string{
				e.Timestamp.UTC().Format(time.RFC3339),
				e.Actor,
				string(e.Action),
				e.EntityType,
				e.EntityID,
				e.DocNo,
				e.Amount,
				e.Checksum,
				strconv.FormatBool(audit.Verify(e) == nil),
			})
			written++
		}
		if !result.Paging.HasNext {
			break
		}
		filters.Page = result.Paging.NextPage
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func toResponse(e audit.Entry) entryResponse {
	return entryResponse{
		ID:         e.ID.String(),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     string(e.Action),
		Actor:      e.Actor,
		DocNo:      e.DocNo,
		Amount:     e.Amount,
		OldValues:  e.OldValues,
		NewValues:  e.NewValues,
		Timestamp:  e.Timestamp,
		Checksum:   e.Checksum,
		Verified:   audit.Verify(e) == nil,
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	query := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(query.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toTime, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "to"}
	}
	fromStr := strings.TrimSpace(query.Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromTime, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "from"}
	}
	if fromTime.After(toTime) {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}
	if toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}

	page := 1
	if v := strings.TrimSpace(query.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page"}
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(query.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page_size"}
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		pageSize = parsed
	}

	return audit.TimelineFilters{
		From:       fromTime,
		To:         toTime.Add(24 * time.Hour),
		Actor:      strings.TrimSpace(query.Get("actor")),
		EntityType: strings.TrimSpace(query.Get("entity_type")),
		EntityID:   strings.TrimSpace(query.Get("entity_id")),
		Action:     strings.ToUpper(strings.TrimSpace(query.Get("action"))),
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusBadRequest,
			Code:   "validation_failed",
			Detail: "invalid filter: " + v.field,
		})
		return
	}
	h.handleServerError(w, "validate filters", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
