package periods

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LockService is the contract consumed by the HTTP handler.
type LockService interface {
	List(ctx context.Context) ([]Lock, error)
	Check(ctx context.Context, date time.Time) (LockStatus, error)
	SetLock(ctx context.Context, fiscalYear, period int, locked bool, actor string) (Lock, error)
}

// Handler exposes period lock administration over HTTP.
type Handler struct {
	logger  *slog.Logger
	service LockService
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service LockService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the period lock endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/period-locks", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/check", h.check)
		r.Put("/{year}/{period}", h.set)
	})
}

type lockResponse struct {
	FiscalYear int        `json:"fiscal_year"`
	Period     int        `json:"period"`
	IsLocked   bool       `json:"is_locked"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	LockedBy   string     `json:"locked_by,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type checkResponse struct {
	Date        string `json:"date"`
	Locked      bool   `json:"locked"`
	LockedUntil string `json:"locked_until,omitempty"`
}

type setRequest struct {
	Locked *bool `json:"locked"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	locks, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]lockResponse, 0, len(locks))
	for _, l := range locks {
		out = append(out, toResponse(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Code: "validation_failed", Detail: "date must be YYYY-MM-DD"})
		return
	}
	status, err := h.service.Check(r.Context(), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := checkResponse{Date: raw, Locked: status.Locked}
	if status.LockedUntil != nil {
		resp.LockedUntil = status.LockedUntil.Format("2006-01-02")
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	year, errYear := strconv.Atoi(chi.URLParam(r, "year"))
	period, errPeriod := strconv.Atoi(chi.URLParam(r, "period"))
	if errYear != nil || errPeriod != nil {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Code: "validation_failed", Detail: "year and period must be numeric"})
		return
	}
	var req setRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Locked == nil {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Code: "validation_failed", Detail: "locked is required"})
		return
	}
	lock, err := h.service.SetLock(r.Context(), year, period, *req.Locked, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(lock))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidPeriod) {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Code: "validation_failed", Detail: err.Error()})
		return
	}
	if !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error("period lock request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func toResponse(l Lock) lockResponse {
	return lockResponse{
		FiscalYear: l.FiscalYear,
		Period:     l.Period,
		IsLocked:   l.IsLocked,
		LockedAt:   l.LockedAt,
		LockedBy:   l.LockedBy,
		UpdatedAt:  l.UpdatedAt,
	}
}
