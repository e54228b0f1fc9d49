package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/platform/httpx"
	"github.com/odyssey-erp/milkround/internal/schedule"
	"github.com/odyssey-erp/milkround/internal/shared"
)

const (
	rateLimit  = 10
	rateWindow = time.Minute
)

type billingService interface {
	GenerateCalendar(ctx context.Context, customerID int64, year int, month time.Month) (schedule.Calendar, error)
	ComputeMonthlyTotal(ctx context.Context, customerID int64, year int, month time.Month, rounding bool) (decimal.Decimal, error)
	GetInvoice(ctx context.Context, customerID int64, year int, month time.Month) (InvoiceView, error)
	ConfirmInvoice(ctx context.Context, customerID int64, year int, month time.Month, rounding bool) (InvoiceStatus, error)
	UnconfirmInvoice(ctx context.Context, customerID int64, year int, month time.Month) (InvoiceStatus, error)
	IsMonthReadOnly(ctx context.Context, customerID int64, year int, month time.Month) (bool, error)
	ComputeLedgerSummary(ctx context.Context, customerID int64, year int, month time.Month) (LedgerSummary, error)
	ListPayments(ctx context.Context, customerID int64, year int, month time.Month) ([]PaymentRecord, error)
	RegisterPayment(ctx context.Context, in PaymentInput) (PaymentRecord, error)
	ListPatterns(ctx context.Context, customerID int64, productID *int64) ([]schedule.PatternVersion, error)
	CreatePattern(ctx context.Context, in PatternInput) (schedule.PatternVersion, error)
	EditPattern(ctx context.Context, versionID int64, effective time.Time, fields schedule.PatternFields) (EditResult, error)
	UndoSplit(ctx context.Context, token string) (schedule.PatternVersion, error)
	DeletePattern(ctx context.Context, versionID int64) error
	ListTemporaryChanges(ctx context.Context, customerID int64, year int, month time.Month) ([]schedule.TemporaryChange, error)
	CreateTemporaryChange(ctx context.Context, in ChangeInput) (schedule.TemporaryChange, error)
	UpdateTemporaryChange(ctx context.Context, id int64, in ChangeInput) (schedule.TemporaryChange, error)
	DeleteTemporaryChange(ctx context.Context, id int64) error
	InvalidateCatalog(ctx context.Context) error
}

// BatchEnqueuer schedules whole-month confirmation runs.
type BatchEnqueuer interface {
	EnqueueConfirmMonth(ctx context.Context, period Period) (string, error)
}

// Handler exposes the billing engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   billingService
	batches   BatchEnqueuer
	validator *validator.Validate

	defaultRounding bool
}

// NewHandler constructs the billing HTTP handler. batches may be nil when
// no worker queue is configured.
func NewHandler(logger *slog.Logger, service billingService, batches BatchEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		batches:   batches,
		validator: validator.New(),
	}
}

// WithDefaultRounding sets the rounding used by the totals endpoint when the
// request does not pass one.
func (h *Handler) WithDefaultRounding(enabled bool) *Handler {
	h.defaultRounding = enabled
	return h
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)

	r.Route("/customers/{customerID}", func(r chi.Router) {
		r.Get("/calendar/{year}/{month}", h.handleCalendar)
		r.Get("/totals/{year}/{month}", h.handleTotal)
		r.Get("/ledger/{year}/{month}", h.handleLedger)
		r.Route("/invoices/{year}/{month}", func(r chi.Router) {
			r.Get("/", h.handleInvoice)
			r.Get("/read-only", h.handleReadOnly)
			r.Group(func(gr chi.Router) {
				gr.Use(limiter)
				gr.Post("/confirm", h.handleConfirm)
				gr.Post("/unconfirm", h.handleUnconfirm)
			})
		})
		r.Get("/payments/{year}/{month}", h.handleListPayments)
		r.Post("/payments", h.handleRegisterPayment)
		r.Get("/patterns", h.handleListPatterns)
		r.Post("/patterns", h.handleCreatePattern)
		r.Get("/changes/{year}/{month}", h.handleListChanges)
		r.Post("/changes", h.handleCreateChange)
	})
	r.Put("/patterns/{id}", h.handleEditPattern)
	r.Delete("/patterns/{id}", h.handleDeletePattern)
	r.Post("/patterns/undo", h.handleUndoSplit)
	r.Put("/changes/{id}", h.handleUpdateChange)
	r.Delete("/changes/{id}", h.handleDeleteChange)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/batches/confirm", h.handleBatchConfirm)
		gr.Post("/catalog/invalidate", h.handleInvalidateCatalog)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor > 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	return httprate.KeyByIP(r)
}

var errorMappings = []httpx.ErrorMapping{
	{Err: ErrOverlap, Status: http.StatusConflict, Title: "Overlapping Pattern"},
	{Err: schedule.ErrInvalidRange, Status: http.StatusUnprocessableEntity, Title: "Invalid Range"},
	{Err: schedule.ErrInactiveVersion, Status: http.StatusUnprocessableEntity, Title: "Inactive Version"},
	{Err: schedule.ErrNegativeQuantity, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrStaleUndo, Status: http.StatusConflict, Title: "Stale Undo"},
	{Err: ErrReadOnlyMonth, Status: http.StatusLocked, Title: "Month Locked"},
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrDataIntegrity) || errors.Is(err, ErrPartialWrite) {
		h.logger.Error("billing write failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrValidation, io.EOF)
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrValidation, name)
	}
	return id, nil
}

func pathPeriod(r *http.Request) (Period, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return Period{}, fmt.Errorf("%w: invalid year", ErrValidation)
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return Period{}, fmt.Errorf("%w: invalid month", ErrValidation)
	}
	p := Period{Year: year, Month: time.Month(month)}
	return p, p.Validate()
}

func customerPeriod(r *http.Request) (int64, Period, error) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		return 0, Period{}, err
	}
	period, err := pathPeriod(r)
	return customerID, period, err
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	cal, err := h.service.GenerateCalendar(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cal)
}

func (h *Handler) handleTotal(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rounding := h.defaultRounding
	if raw := r.URL.Query().Get("rounding"); raw != "" {
		rounding, err = strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: rounding must be a boolean", ErrValidation))
			return
		}
	}
	total, err := h.service.ComputeMonthlyTotal(r.Context(), customerID, period.Year, period.Month, rounding)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totalResponse{
		CustomerID: customerID,
		Year:       period.Year,
		Month:      period.Month,
		Rounding:   rounding,
		Total:      total,
	})
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.service.GetInvoice(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleReadOnly(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	readOnly, err := h.service.IsMonthReadOnly(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, readOnlyResponse{ReadOnly: readOnly})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req confirmRequest
	if err := h.decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, r, err)
		return
	}
	rounding := false
	if req.RoundingEnabled != nil {
		rounding = *req.RoundingEnabled
	} else {
		view, err := h.service.GetInvoice(r.Context(), customerID, period.Year, period.Month)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		rounding = view.Status.RoundingEnabled
	}
	status, err := h.service.ConfirmInvoice(r.Context(), customerID, period.Year, period.Month, rounding)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleUnconfirm(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status, err := h.service.UnconfirmInvoice(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	summary, err := h.service.ComputeLedgerSummary(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) handleRegisterPayment(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	key := req.IdempotencyKey
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		key = header
	}
	record, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		CustomerID:     customerID,
		Year:           req.Year,
		Month:          time.Month(req.Month),
		Amount:         req.Amount,
		Method:         PaymentMethod(req.Method),
		Note:           req.Note,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var productID *int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.respondError(w, r, fmt.Errorf("%w: invalid product_id", ErrValidation))
			return
		}
		productID = &id
	}
	versions, err := h.service.ListPatterns(r.Context(), customerID, productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, versions)
}

func (h *Handler) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req createPatternRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	in, err := req.toInput(customerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	version, err := h.service.CreatePattern(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, version)
}

func (h *Handler) handleEditPattern(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req editPatternRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	qty, err := parseQuantities(req.Quantities)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.EditPattern(r.Context(), id, effective, schedule.PatternFields{UnitPrice: req.UnitPrice, Quantities: qty})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleDeletePattern(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.service.DeletePattern(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUndoSplit(w http.ResponseWriter, r *http.Request) {
	var req undoRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	restored, err := h.service.UndoSplit(r.Context(), req.Token)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, restored)
}

func (h *Handler) handleListChanges(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := customerPeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	changes, err := h.service.ListTemporaryChanges(r.Context(), customerID, period.Year, period.Month)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changes)
}

func (h *Handler) handleCreateChange(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req changeRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	in, err := req.toInput(customerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	change, err := h.service.CreateTemporaryChange(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, change)
}

func (h *Handler) handleUpdateChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req changeRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	in, err := req.toInput(0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	change, err := h.service.UpdateTemporaryChange(r.Context(), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, change)
}

func (h *Handler) handleDeleteChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.service.DeleteTemporaryChange(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InvalidateCatalog(r.Context()); err != nil {
		h.logger.Error("invalidate catalog", slog.Any("error", err))
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBatchConfirm(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "batch confirmation is not configured")
		return
	}
	var req batchRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	period := Period{Year: req.Year, Month: time.Month(req.Month)}
	taskID, err := h.batches.EnqueueConfirmMonth(r.Context(), period)
	if err != nil {
		h.logger.Error("enqueue batch confirm", slog.String("period", period.String()), slog.Any("error", err))
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, batchResponse{TaskID: taskID, Period: period})
}
