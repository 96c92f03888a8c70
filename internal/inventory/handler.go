package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler manages inventory movement and valuation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.handleReceive)
	r.Post("/issues", h.handleConsume)
	r.Get("/products/{id}/balance", h.handleGetBalance)
	r.Get("/products/{id}/layers", h.handleListLayers)
	r.Get("/transactions", h.handleListTransactions)
}

type movementRequest struct {
	ProductID    int64  `json:"product_id" validate:"required"`
	Type         string `json:"type"`
	Quantity     string `json:"quantity" validate:"required"`
	UnitCost     string `json:"unit_cost"`
	SellingPrice string `json:"selling_price"`
	Date         string `json:"date"`
	Note         string `json:"note"`
	ActorID      int64  `json:"actor_id"`
	RefModule    string `json:"ref_module"`
	RefID        string `json:"ref_id"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	if req.UnitCost == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost required")
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	date, err := parseMovementDate(req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date")
		return
	}
	txn, err := h.service.Receive(r.Context(), ReceiveInput{
		ProductID: req.ProductID,
		Type:      TransactionType(req.Type),
		Quantity:  qty,
		UnitCost:  unitCost,
		Date:      date,
		Note:      req.Note,
		ActorID:   req.ActorID,
		RefModule: req.RefModule,
		RefID:     req.RefID,
	})
	if err != nil {
		h.respondError(w, "receive", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	var sellingPrice decimal.NullDecimal
	if req.SellingPrice != "" {
		price, err := decimal.NewFromString(req.SellingPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid selling_price")
			return
		}
		sellingPrice = decimal.NewNullDecimal(price)
	}
	date, err := parseMovementDate(req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date")
		return
	}
	txn, err := h.service.Consume(r.Context(), ConsumeInput{
		ProductID:    req.ProductID,
		Type:         TransactionType(req.Type),
		Quantity:     qty,
		SellingPrice: sellingPrice,
		Date:         date,
		Note:         req.Note,
		ActorID:      req.ActorID,
		RefModule:    req.RefModule,
		RefID:        req.RefID,
	})
	if err != nil {
		h.respondError(w, "consume", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return
	}
	bal, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		h.respondError(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleListLayers(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	layers, err := h.service.ListLayers(r.Context(), id, activeOnly)
	if err != nil {
		h.respondError(w, "list layers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": layers})
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{}
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, TransactionType(t))
	}
	if from := q.Get("from"); from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = parsed
	}
	if to := q.Get("to"); to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = parsed
	}
	txns, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": txns})
}

func parseMovementDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", "another movement touched the same stock, retry the request")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Movement", "a movement with the same reference was already posted")
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrInvalidTransactionType), errors.Is(err, ErrUnknownCostingMethod):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
	}
}
