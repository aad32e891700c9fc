package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

var errMissingActor = errors.New("missing actor headers")

type OrderItemRequest struct {
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	ProductName string    `json:"product_name" validate:"required,max=200"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
	UnitPrice   float64   `json:"unit_price" validate:"gte=0"`
	Notes       *string   `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type PlaceOrderRequest struct {
	RestaurantID    uuid.UUID          `json:"restaurant_id" validate:"required"`
	DeliveryAddress string             `json:"delivery_address" validate:"required,min=5,max=500"`
	DeliveryFee     float64            `json:"delivery_fee" validate:"gte=0"`
	Notes           *string            `json:"notes,omitempty" validate:"omitempty,max=500"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type AcceptRequest struct {
	EstimatedTimeMinutes int `json:"estimated_time_minutes" validate:"required,min=1,max=600"`
}

type OrderResponse struct {
	order.Order
	ShortID         string           `json:"short_id"`
	GrandTotal      float64          `json:"grand_total"`
	StatusView      order.StatusView `json:"status_view"`
	EstimateVisible bool             `json:"estimate_visible"`
}

type AvailableActionsResponse struct {
	OrderID uuid.UUID      `json:"order_id"`
	Status  order.Status   `json:"status"`
	Role    order.Role     `json:"role"`
	Actions []order.Action `json:"actions"`
}

func newOrderResponse(o *order.Order) OrderResponse {
	return OrderResponse{
		Order:           *o,
		ShortID:         o.ShortID(),
		GrandTotal:      o.GrandTotal(),
		StatusView:      order.Describe(o.Status),
		EstimateVisible: order.EstimateVisible(o.Status) && o.EstimatedTimeMinutes != nil,
	}
}

func newOrderResponses(orders []order.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/statuses", h.handleListStatuses)
	router.Post("/orders", h.handlePlaceOrder)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Get("/orders/{id}/history", h.handleGetHistory)
	router.Get("/orders/{id}/actions", h.handleAvailableActions)
	router.Post("/orders/{id}/{action}", h.handleAction)
	router.Get("/users/{id}/orders", h.handleListByUser)
	router.Get("/restaurants/{id}/orders", h.handleListByRestaurant)
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != order.RoleCustomer {
		respondWithError(w, http.StatusForbidden, "Only customers can place orders")
		return
	}

	var requestPayload PlaceOrderRequest
	if !h.decode(w, r, &requestPayload) {
		return
	}

	items := make([]order.OrderItem, 0, len(requestPayload.Items))
	for _, item := range requestPayload.Items {
		items = append(items, order.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
		})
	}
	domainOrder := order.Order{
		ID:              uuid.Must(uuid.NewV4()),
		UserID:          actor.ID,
		RestaurantID:    requestPayload.RestaurantID,
		DeliveryAddress: requestPayload.DeliveryAddress,
		DeliveryFee:     requestPayload.DeliveryFee,
		Notes:           requestPayload.Notes,
		Items:           items,
	}

	created, err := h.service.PlaceOrder(r.Context(), &domainOrder)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", actor.ID).Msg("Failed to place order via service")
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	respondWithJSON(w, http.StatusCreated, newOrderResponse(created))
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(found))
}

func (h *OrderHandler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r)
	if !ok {
		return
	}

	history, err := h.service.GetStatusHistory(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get status history via service")
		respondWithServiceError(w, err, "Failed to get status history")
		return
	}
	if history == nil {
		history = []order.StatusChange{}
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *OrderHandler) handleAvailableActions(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r)
	if !ok {
		return
	}
	role := order.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		respondWithError(w, http.StatusBadRequest, "Invalid role parameter")
		return
	}

	found, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	actions := h.service.AvailableActions(found.Status, role)
	if actions == nil {
		actions = []order.Action{}
	}
	respondWithJSON(w, http.StatusOK, AvailableActionsResponse{
		OrderID: found.ID,
		Status:  found.Status,
		Role:    role,
		Actions: actions,
	})
}

func (h *OrderHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseID(w, r)
	if !ok {
		return
	}
	actionParam := chi.URLParam(r, "action")
	action := order.Action(strings.ReplaceAll(actionParam, "-", "_"))
	if !slices.Contains(order.Actions(), action) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown action %q", actionParam))
		return
	}

	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	cmd := order.Command{Action: action, Actor: actor}
	if action == order.ActionAccept {
		var requestPayload AcceptRequest
		if !h.decode(w, r, &requestPayload) {
			return
		}
		cmd.EstimatedTimeMinutes = requestPayload.EstimatedTimeMinutes
	}

	updated, err := h.service.Apply(r.Context(), orderID, cmd)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("action", action).Msg("Failed to apply order action via service")
		respondWithServiceError(w, err, "Failed to update order")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponse(updated))
}

func (h *OrderHandler) handleListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to list user orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleListByRestaurant(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := parseID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrdersByRestaurant(r.Context(), restaurantID)
	if err != nil {
		log.Error().Err(err).Stringer("restaurant_id", restaurantID).Msg("Failed to list restaurant orders via service")
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleListStatuses(w http.ResponseWriter, _ *http.Request) {
	statuses := order.Statuses()
	views := make([]order.StatusView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, order.Describe(s))
	}
	respondWithJSON(w, http.StatusOK, views)
}

func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithValidationError(w, err)
		return false
	}
	return true
}

func (h *OrderHandler) requireActor(w http.ResponseWriter, r *http.Request) (order.Actor, bool) {
	actor, err := actorFromRequest(r)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected request without a valid actor")
		code := http.StatusBadRequest
		if errors.Is(err, errMissingActor) {
			code = http.StatusUnauthorized
		}
		respondWithError(w, code, err.Error())
		return order.Actor{}, false
	}
	return actor, true
}

func actorFromRequest(r *http.Request) (order.Actor, error) {
	rawID := r.Header.Get(HeaderActorID)
	rawRole := r.Header.Get(HeaderActorRole)
	if rawID == "" || rawRole == "" {
		return order.Actor{}, errMissingActor
	}
	id, err := uuid.FromString(rawID)
	if err != nil || id == uuid.Nil {
		return order.Actor{}, fmt.Errorf("invalid %s header", HeaderActorID)
	}
	role := order.Role(strings.ToLower(rawRole))
	if !role.Valid() {
		return order.Actor{}, fmt.Errorf("invalid %s header", HeaderActorRole)
	}
	return order.Actor{ID: id, Role: role}, nil
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}
