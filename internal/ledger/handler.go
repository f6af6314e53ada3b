// AngelaMos | 2026
// handler.go

package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the owner-filtered rows and the ledger procedures.
// rpcLimiter may be nil.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	rpcLimiter func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/credit_accounts/me", h.GetAccount)
		r.Get("/credit_transactions", h.ListTransactions)

		r.Route("/rpc", func(r chi.Router) {
			if rpcLimiter != nil {
				r.Use(rpcLimiter)
			}
			r.Post("/debit_credits", h.Debit)
			r.Post("/credit_credits", h.Credit)
			r.Post("/record_daily_usage", h.RecordDailyUsage)
			r.Post("/daily_usage", h.DailyUsage)
			r.Post("/days_remaining", h.DaysRemaining)
		})
	})
}

func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/credits", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/totals", h.Totals)
		r.Post("/{userID}/grant", h.Grant)
	})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Account(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, account)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListTransactions(
		r.Context(),
		middleware.GetUserID(r.Context()),
		parseIntQuery(r, "limit", defaultPageLimit),
		parseIntQuery(r, "offset", 0),
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, page)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.Debit(
		r.Context(),
		middleware.GetUserID(r.Context()),
		req.Amount,
		req.Description,
		req.IdempotencyKey,
	)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	core.OK(w, receipt)
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.Credit(
		r.Context(),
		middleware.GetUserID(r.Context()),
		req.Amount,
		req.Description,
		req.IdempotencyKey,
	)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	core.OK(w, receipt)
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	description := req.Description
	if description == "" {
		description = "admin grant"
	}

	receipt, err := h.service.Credit(
		r.Context(),
		chi.URLParam(r, "userID"),
		req.Amount,
		description,
		req.IdempotencyKey,
	)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	core.OK(w, receipt)
}

func (h *Handler) RecordDailyUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeInvalidAmount(w)
		return
	}

	if err := h.service.RecordDailyUsage(
		r.Context(),
		middleware.GetUserID(r.Context()),
		req.Amount,
	); err != nil {
		writeLedgerError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) DailyUsage(w http.ResponseWriter, r *http.Request) {
	var req DailyUsageRequest
	if err := decodeOptional(r, &req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	daysBack := req.DaysBack
	if daysBack == 0 {
		daysBack = 1
	}

	usage, err := h.service.DailyUsage(
		r.Context(),
		middleware.GetUserID(r.Context()),
		daysBack,
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, DailyUsageResponse{DaysBack: daysBack, Usage: usage})
}

func (h *Handler) DaysRemaining(w http.ResponseWriter, r *http.Request) {
	days, err := h.service.DaysRemaining(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, DaysRemainingResponse{Days: days})
}

func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context())
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, totals)
}

func (h *Handler) decodeAmount(
	w http.ResponseWriter,
	r *http.Request,
) (AmountRequest, bool) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return req, false
	}

	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		req.IdempotencyKey = key
	}

	if err := h.validator.Struct(req); err != nil {
		if req.Amount <= 0 {
			writeInvalidAmount(w)
			return req, false
		}
		core.BadRequest(w, core.FormatValidationError(err))
		return req, false
	}

	return req, true
}

func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeInvalidAmount(w http.ResponseWriter) {
	core.JSONError(w, core.NewAppError(
		ErrInvalidAmount,
		ErrInvalidAmount.Error(),
		http.StatusBadRequest,
		"INVALID_AMOUNT",
	))
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		core.JSONError(w, core.NewAppError(
			err,
			"insufficient balance",
			http.StatusConflict,
			"INSUFFICIENT_BALANCE",
		))
	case errors.Is(err, ErrIdempotencyConflict):
		core.JSONError(w, core.NewAppError(
			err,
			ErrIdempotencyConflict.Error(),
			http.StatusConflict,
			"IDEMPOTENCY_CONFLICT",
		))
	case errors.Is(err, ErrInvalidAmount):
		writeInvalidAmount(w)
	default:
		core.InternalServerError(w, err)
	}
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
