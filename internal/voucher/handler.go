package voucher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client supplied replay key on create.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore keeps create responses for replay.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Reserve(ctx context.Context, key string, placeholder []byte) (bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes voucher operations over HTTP.
type Handler struct {
	service  *Service
	idem     IdempotencyStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new voucher handler. idem may be nil to disable
// replay of create requests.
func NewHandler(service *Service, idem IdempotencyStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		idem:     idem,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// MountRoutes registers voucher endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/vouchers", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.save)
		r.Post("/balance", h.balance)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Get("/ledger", h.ledger)
			r.Post("/post", h.post)
			r.Post("/void", h.void)
			r.Post("/duplicate", h.duplicate)
		})
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{
		Type:   Type(strings.ToUpper(strings.TrimSpace(query.Get("type")))),
		Status: Status(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
	}
	var err error
	if filter.FromDate, err = parseDateParam(query.Get("fromDate"), "fromDate"); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.ToDate, err = parseDateParam(query.Get("toDate"), "toDate"); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.Page, err = parseIntParam(query.Get("page"), "page"); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.PageSize, err = parseIntParam(query.Get("pageSize"), "pageSize"); err != nil {
		h.respondError(w, err)
		return
	}

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := listResponse{Data: make([]voucherResponse, 0, len(page.Items)), Pagination: shared.NewPagination(page.Page, page.PageSize, page.Total)}
	for _, v := range page.Items {
		resp.Data = append(resp.Data, toVoucherResponse(v))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVoucherResponse(v))
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	entries, err := h.service.LedgerEntries(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": toLedgerResponse(entries)})
}

// save creates a voucher, or fully updates it when the body carries an id.
func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	body, req, err := h.decodeVoucher(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	input, err := req.toInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if req.ID != nil {
		v, err := h.service.Update(r.Context(), *req.ID, input)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toVoucherResponse(v))
		return
	}
	h.create(w, r, body, input)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	_, req, err := h.decodeVoucher(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	input, err := req.toInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	v, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVoucherResponse(v))
}

type storedResponse struct {
	Pending     bool            `json:"pending,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, body []byte, input Input) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.idem == nil {
		v, err := h.service.Create(r.Context(), input)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, toVoucherResponse(v))
		return
	}

	scoped := input.Actor + ":" + key
	sum := blake2b.Sum256(body)
	fingerprint := hex.EncodeToString(sum[:])
	placeholder, _ := json.Marshal(storedResponse{Pending: true, Fingerprint: fingerprint})

	reserved, err := h.idem.Reserve(r.Context(), scoped, placeholder)
	if err != nil {
		h.logger.Warn("idempotency store unavailable", slog.Any("error", err))
	}
	if err == nil && !reserved {
		h.replay(w, r, scoped, fingerprint)
		return
	}

	v, err := h.service.Create(r.Context(), input)
	if err != nil {
		if reserved {
			_ = h.idem.Delete(context.WithoutCancel(r.Context()), scoped)
		}
		h.respondError(w, err)
		return
	}
	resp := toVoucherResponse(v)
	if reserved {
		payload, _ := json.Marshal(resp)
		stored, _ := json.Marshal(storedResponse{Fingerprint: fingerprint, Status: http.StatusCreated, Body: payload})
		if err := h.idem.Set(context.WithoutCancel(r.Context()), scoped, stored); err != nil {
			h.logger.Warn("store idempotent response", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, key, fingerprint string) {
	raw, ok, err := h.idem.Get(r.Context(), key)
	if err != nil || !ok {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Code: "idempotency_in_progress", Detail: "a request with this idempotency key is being processed"})
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		h.respondError(w, err)
		return
	}
	if stored.Fingerprint != fingerprint {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnprocessableEntity, Code: "idempotency_key_reused", Detail: "idempotency key was used with a different request body"})
		return
	}
	if stored.Pending {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Code: "idempotency_in_progress", Detail: "a request with this idempotency key is being processed"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	report := h.service.EvaluateBalance(toLineInputs(req.Lines))
	httpx.JSON(w, http.StatusOK, toBalanceResponse(report))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.service.Post(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"voucher": toVoucherResponse(result.Voucher),
		"ledger":  toLedgerResponse(result.Entries),
		"balance": toBalanceResponse(result.Report),
	})
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req voidRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.respondError(w, err)
			return
		}
	}
	v, err := h.service.Void(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVoucherResponse(v))
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req duplicateRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.respondError(w, err)
			return
		}
	}
	v, err := h.service.Duplicate(r.Context(), id, req.DocNo, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toVoucherResponse(v))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeVoucher(r *http.Request) ([]byte, voucherRequest, error) {
	var raw json.RawMessage
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		return nil, voucherRequest{}, err
	}
	var req voucherRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, voucherRequest{}, errors.Join(httpx.ErrValidation, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, voucherRequest{}, err
	}
	return raw, req, nil
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return h.validate.Struct(target)
}

// respondError maps the voucher error taxonomy onto problem documents.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		fieldErrs    validator.ValidationErrors
		validation   *ValidationError
		balanceErr   *BalanceError
		lockedErr    *periods.LockedError
		insufficient *budget.InsufficientError
	)
	switch {
	case errors.As(err, &fieldErrs):
		fields := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed", Code: "validation_failed", Detail: "request failed validation", Extra: map[string]any{"fields": fields}})
	case errors.As(err, &validation):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed", Code: "validation_failed", Detail: validation.Error(), Extra: map[string]any{"field": validation.Field}})
	case errors.As(err, &balanceErr):
		report := balanceErr.Report
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnprocessableEntity, Title: "Voucher Not Balanced", Code: string(report.Status), Detail: report.Message, Extra: map[string]any{"balance": toBalanceResponse(report)}})
	case errors.As(err, &lockedErr):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusForbidden, Title: "Period Locked", Code: "period_locked", Detail: lockedErr.Error(), Extra: map[string]any{"locked_until": lockedErr.LockedUntil.Format("2006-01-02")}})
	case errors.Is(err, ErrDocNoConflict):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Title: "Duplicate Document Number", Code: "doc_no_conflict", Detail: err.Error()})
	case errors.Is(err, ErrStateConflict):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Title: "Invalid Transition", Code: "invalid_transition", Detail: err.Error()})
	case errors.Is(err, ErrNotFound):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusNotFound, Title: "Not Found", Code: "not_found", Detail: err.Error()})
	case errors.As(err, &insufficient):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnprocessableEntity, Title: "Insufficient Budget", Code: "insufficient_budget", Detail: insufficient.Error(), Extra: map[string]any{"fund_ref": insufficient.FundRef, "remaining": insufficient.Remaining.StringFixed(2)}})
	case errors.Is(err, budget.ErrUnknownFund):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnprocessableEntity, Title: "Unknown Fund", Code: "unknown_fund", Detail: err.Error()})
	case errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("voucher request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("id", "must be a positive integer")
	}
	return id, nil
}

func parseDateParam(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, invalid(field, "must be YYYY-MM-DD")
	}
	return &t, nil
}

func parseIntParam(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalid(field, "must be a non-negative integer")
	}
	return n, nil
}
