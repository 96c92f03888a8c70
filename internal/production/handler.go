package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler manages BOM and production order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/boms", func(r chi.Router) {
		r.Get("/", h.handleListBOMs)
		r.Post("/", h.handleCreateBOM)
		r.Get("/{id}", h.handleGetBOM)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleListOrders)
		r.Post("/", h.handleCreateOrder)
		r.Get("/{id}", h.handleGetOrder)
		r.Delete("/{id}", h.handleDeleteOrder)
		r.Post("/{id}/start", h.handleStartOrder)
		r.Post("/{id}/complete", h.handleCompleteOrder)
		r.Post("/{id}/cancel", h.handleCancelOrder)
	})
}

type bomLineRequest struct {
	ComponentID int64  `json:"component_id" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	LineOrder   int    `json:"line_order"`
}

type createBOMRequest struct {
	Code           string           `json:"code" validate:"required"`
	Name           string           `json:"name" validate:"required"`
	ProductID      int64            `json:"product_id" validate:"required"`
	OutputQuantity string           `json:"output_quantity" validate:"required"`
	Lines          []bomLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateBOM(w http.ResponseWriter, r *http.Request) {
	var req createBOMRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	outputQty, err := decimal.NewFromString(req.OutputQuantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid output_quantity")
		return
	}
	input := CreateBOMInput{
		Code:           req.Code,
		Name:           req.Name,
		ProductID:      req.ProductID,
		OutputQuantity: outputQty,
	}
	for i, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity on line "+strconv.Itoa(i+1))
			return
		}
		input.Lines = append(input.Lines, BOMLineInput{ComponentID: line.ComponentID, Quantity: qty, LineOrder: line.LineOrder})
	}
	bom, err := h.service.CreateBOM(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "create BOM", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bom)
}

func (h *Handler) handleGetBOM(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid BOM id")
		return
	}
	bom, err := h.service.GetBOM(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get BOM", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) handleListBOMs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	boms, err := h.service.ListBOMs(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, "list BOMs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": boms})
}

type createOrderRequest struct {
	Number      string `json:"number"`
	BOMID       int64  `json:"bom_id" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	OrderDate   string `json:"order_date"`
	PlannedDate string `json:"planned_date"`
	Note        string `json:"note"`
	ActorID     int64  `json:"actor_id"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
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
	input := CreateOrderInput{
		Number:   req.Number,
		BOMID:    req.BOMID,
		Quantity: qty,
		Note:     req.Note,
		ActorID:  req.ActorID,
	}
	if req.OrderDate != "" {
		if input.OrderDate, err = time.Parse("2006-01-02", req.OrderDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order_date")
			return
		}
	}
	if req.PlannedDate != "" {
		if input.PlannedDate, err = time.Parse("2006-01-02", req.PlannedDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid planned_date")
			return
		}
	}
	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := OrderStatus(r.URL.Query().Get("status"))
	orders, err := h.service.ListOrders(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, r, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, "delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", func(ctx *http.Request, id int64) (ProductionOrder, error) {
		return h.service.Start(ctx.Context(), id)
	})
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", func(ctx *http.Request, id int64) (ProductionOrder, error) {
		return h.service.Cancel(ctx.Context(), id)
	})
}

type completeOrderRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	var req completeOrderRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
			return
		}
	}
	order, err := h.service.Complete(r.Context(), id, req.ActorID)
	if err != nil {
		h.respondError(w, r, "complete order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(*http.Request, int64) (ProductionOrder, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid order id")
		return
	}
	order, err := fn(r, id)
	if err != nil {
		h.respondError(w, r, action+" order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var stateErr *StateError
	var shortErr *ShortageError
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrBOMNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &stateErr):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.As(err, &shortErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", "another movement touched the same stock, retry the request")
	case errors.Is(err, ErrSelfReference), errors.Is(err, ErrEmptyBOM),
		errors.Is(err, ErrInvalidOutputQuantity), errors.Is(err, ErrInvalidOrderQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
	}
}
