package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-ordering/internal/handler"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) orderResult(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ordersResult(args mock.Arguments) ([]order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) PlaceOrder(ctx context.Context, o *order.Order) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, o))
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	return m.ordersResult(m.Called(ctx, userID))
}

func (m *MockOrderService) ListOrdersByRestaurant(ctx context.Context, restaurantID uuid.UUID) ([]order.Order, error) {
	return m.ordersResult(m.Called(ctx, restaurantID))
}

func (m *MockOrderService) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]order.StatusChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusChange), args.Error(1)
}

func (m *MockOrderService) Apply(ctx context.Context, id uuid.UUID, cmd order.Command) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, cmd))
}

func (m *MockOrderService) Accept(ctx context.Context, id uuid.UUID, actor order.Actor, minutes int) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor, minutes))
}

func (m *MockOrderService) Reject(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) Cancel(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) StartPreparing(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) MarkReady(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) Dispatch(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) ConfirmDelivery(ctx context.Context, id uuid.UUID, actor order.Actor) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, actor))
}

func (m *MockOrderService) AvailableActions(status order.Status, role order.Role) []order.Action {
	args := m.Called(status, role)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]order.Action)
}

var (
	orderID      = uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440000"))
	customerID   = uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	restaurantID = uuid.Must(uuid.FromString("9b2d7c1e-4a51-4f7e-8a3b-2f6e1d0c9a88"))
	ownerID      = uuid.Must(uuid.FromString("1f0c9d8e-7b6a-4c5d-9e8f-0a1b2c3d4e5f"))
)

func newRouter(svc order.Service) http.Handler {
	router := chi.NewRouter()
	handler.NewOrderHandler(svc).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, actorID uuid.UUID, role order.Role) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != uuid.Nil {
		req.Header.Set(handler.HeaderActorID, actorID.String())
		req.Header.Set(handler.HeaderActorRole, string(role))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func sampleOrder(status order.Status) *order.Order {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:              orderID,
		UserID:          customerID,
		RestaurantID:    restaurantID,
		RestaurantName:  "Cantina Roma",
		Status:          status,
		TotalAmount:     45.90,
		DeliveryFee:     4.50,
		DeliveryAddress: "Rua das Flores, 10",
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestOrderHandler_PlaceOrder_Success(t *testing.T) {
	svc := new(MockOrderService)
	router := newRouter(svc)

	request := handler.PlaceOrderRequest{
		RestaurantID:    restaurantID,
		DeliveryAddress: "Rua das Flores, 10",
		DeliveryFee:     4.50,
		Items: []handler.OrderItemRequest{
			{ProductID: uuid.Must(uuid.NewV4()), ProductName: "Margherita", Quantity: 2, UnitPrice: 10},
		},
	}

	svc.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
		return o.UserID == customerID &&
			o.RestaurantID == restaurantID &&
			o.ID != uuid.Nil &&
			len(o.Items) == 1 &&
			o.Items[0].Quantity == 2
	})).Return(sampleOrder(order.StatusPending), nil).Once()

	rr := doRequest(t, router, http.MethodPost, "/orders", request, customerID, order.RoleCustomer)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var got handler.OrderResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, orderID, got.ID)
	assert.Equal(t, "55440000", got.ShortID)
	assert.InDelta(t, 50.40, got.GrandTotal, 0.001)
	assert.Equal(t, "Awaiting confirmation", got.StatusView.Label)
	svc.AssertExpectations(t)
}

func TestOrderHandler_PlaceOrder_Rejections(t *testing.T) {
	valid := handler.PlaceOrderRequest{
		RestaurantID:    restaurantID,
		DeliveryAddress: "Rua das Flores, 10",
		Items: []handler.OrderItemRequest{
			{ProductID: uuid.Must(uuid.NewV4()), ProductName: "Margherita", Quantity: 1, UnitPrice: 10},
		},
	}
	noItems := valid
	noItems.Items = nil

	tests := []struct {
		name     string
		body     any
		actor    uuid.UUID
		role     order.Role
		wantCode int
	}{
		{name: "no actor headers", body: valid, wantCode: http.StatusUnauthorized},
		{name: "restaurant cannot place", body: valid, actor: ownerID, role: order.RoleRestaurant, wantCode: http.StatusForbidden},
		{name: "unknown role", body: valid, actor: customerID, role: "courier", wantCode: http.StatusBadRequest},
		{name: "no items", body: noItems, actor: customerID, role: order.RoleCustomer, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: map[string]any{"restaurant_id": restaurantID, "tip": 5}, actor: customerID, role: order.RoleCustomer, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderService)
			rr := doRequest(t, newRouter(svc), http.MethodPost, "/orders", tt.body, tt.actor, tt.role)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			svc.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestOrderHandler_PlaceOrder_ValidationDetails(t *testing.T) {
	svc := new(MockOrderService)
	body := handler.PlaceOrderRequest{
		RestaurantID:    restaurantID,
		DeliveryAddress: "Rua das Flores, 10",
		Items:           []handler.OrderItemRequest{{ProductID: uuid.Must(uuid.NewV4()), ProductName: "Soup", Quantity: 0}},
	}

	rr := doRequest(t, newRouter(svc), http.MethodPost, "/orders", body, customerID, order.RoleCustomer)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var got handler.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "Validation failed", got.Error)
	assert.Contains(t, got.Details, "PlaceOrderRequest.Items[0].Quantity")
}

func TestOrderHandler_GetOrder(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		setup    func(svc *MockOrderService)
		wantCode int
	}{
		{
			name: "found",
			path: "/orders/" + orderID.String(),
			setup: func(svc *MockOrderService) {
				svc.On("GetOrder", mock.Anything, orderID).Return(sampleOrder(order.StatusAccepted), nil).Once()
			},
			wantCode: http.StatusOK,
		},
		{
			name: "not found",
			path: "/orders/" + orderID.String(),
			setup: func(svc *MockOrderService) {
				svc.On("GetOrder", mock.Anything, orderID).Return(nil, order.ErrOrderNotFound).Once()
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "store down",
			path: "/orders/" + orderID.String(),
			setup: func(svc *MockOrderService) {
				svc.On("GetOrder", mock.Anything, orderID).
					Return(nil, fmt.Errorf("service: get order: %w: %w", order.ErrStoreUnavailable, context.DeadlineExceeded)).Once()
			},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "bad id",
			path:     "/orders/not-a-uuid",
			setup:    func(*MockOrderService) {},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderService)
			tt.setup(svc)

			rr := doRequest(t, newRouter(svc), http.MethodGet, tt.path, nil, uuid.Nil, "")
			assert.Equal(t, tt.wantCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_StoreErrorHidesDetails(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("GetOrder", mock.Anything, orderID).
		Return(nil, fmt.Errorf("service: get order: %w: %w", order.ErrStoreUnavailable, fmt.Errorf("dial tcp 10.0.0.5:5432"))).Once()

	rr := doRequest(t, newRouter(svc), http.MethodGet, "/orders/"+orderID.String(), nil, uuid.Nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
}

func TestOrderHandler_Action(t *testing.T) {
	path := "/orders/" + orderID.String()
	restaurant := order.Actor{ID: ownerID, Role: order.RoleRestaurant}
	customer := order.Actor{ID: customerID, Role: order.RoleCustomer}

	tests := []struct {
		name     string
		action   string
		body     any
		actor    order.Actor
		wantCmd  *order.Command
		result   *order.Order
		err      error
		wantCode int
	}{
		{
			name:     "accept with estimate",
			action:   "accept",
			body:     handler.AcceptRequest{EstimatedTimeMinutes: 30},
			actor:    restaurant,
			wantCmd:  &order.Command{Action: order.ActionAccept, Actor: restaurant, EstimatedTimeMinutes: 30},
			result:   sampleOrder(order.StatusAccepted),
			wantCode: http.StatusOK,
		},
		{
			name:     "accept without estimate",
			action:   "accept",
			body:     map[string]int{},
			actor:    restaurant,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "kebab case action",
			action:   "start-preparing",
			actor:    restaurant,
			wantCmd:  &order.Command{Action: order.ActionStartPreparing, Actor: restaurant},
			result:   sampleOrder(order.StatusPreparing),
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid transition",
			action:   "dispatch",
			actor:    restaurant,
			wantCmd:  &order.Command{Action: order.ActionDispatch, Actor: restaurant},
			err:      fmt.Errorf("%w: cannot dispatch an order in status pending", order.ErrInvalidTransition),
			wantCode: http.StatusConflict,
		},
		{
			name:     "role not permitted",
			action:   "confirm-delivery",
			actor:    restaurant,
			wantCmd:  &order.Command{Action: order.ActionConfirmDelivery, Actor: restaurant},
			err:      fmt.Errorf("%w: restaurant cannot confirm_delivery orders", order.ErrRoleNotPermitted),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "validation",
			action:   "cancel",
			actor:    customer,
			wantCmd:  &order.Command{Action: order.ActionCancel, Actor: customer},
			err:      fmt.Errorf("%w: whatever", order.ErrValidation),
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "unknown action",
			action:   "teleport",
			actor:    customer,
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrderService)
			if tt.wantCmd != nil {
				var result any
				if tt.result != nil {
					result = tt.result
				}
				svc.On("Apply", mock.Anything, orderID, *tt.wantCmd).Return(result, tt.err).Once()
			}

			rr := doRequest(t, newRouter(svc), http.MethodPost, path+"/"+tt.action, tt.body, tt.actor.ID, tt.actor.Role)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_AvailableActions(t *testing.T) {
	svc := new(MockOrderService)
	svc.On("GetOrder", mock.Anything, orderID).Return(sampleOrder(order.StatusPending), nil).Once()
	svc.On("AvailableActions", order.StatusPending, order.RoleRestaurant).
		Return([]order.Action{order.ActionAccept, order.ActionReject, order.ActionCancel}).Once()

	rr := doRequest(t, newRouter(svc), http.MethodGet, "/orders/"+orderID.String()+"/actions?role=restaurant", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got handler.AvailableActionsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, []order.Action{order.ActionAccept, order.ActionReject, order.ActionCancel}, got.Actions)
	assert.Equal(t, order.StatusPending, got.Status)

	rr = doRequest(t, newRouter(svc), http.MethodGet, "/orders/"+orderID.String()+"/actions?role=courier", nil, uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertExpectations(t)
}

func TestOrderHandler_Lists(t *testing.T) {
	svc := new(MockOrderService)
	orders := []order.Order{*sampleOrder(order.StatusReady)}
	svc.On("ListOrdersByUser", mock.Anything, customerID).Return(orders, nil).Once()
	svc.On("ListOrdersByRestaurant", mock.Anything, restaurantID).Return([]order.Order{}, nil).Once()
	svc.On("GetStatusHistory", mock.Anything, orderID).Return(nil, nil).Once()
	router := newRouter(svc)

	rr := doRequest(t, router, http.MethodGet, "/users/"+customerID.String()+"/orders", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var byUser []handler.OrderResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&byUser))
	require.Len(t, byUser, 1)
	assert.Equal(t, order.StatusReady, byUser[0].Status)

	rr = doRequest(t, router, http.MethodGet, "/restaurants/"+restaurantID.String()+"/orders", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = doRequest(t, router, http.MethodGet, "/orders/"+orderID.String()+"/history", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	svc.AssertExpectations(t)
}

func TestOrderHandler_Statuses(t *testing.T) {
	rr := doRequest(t, newRouter(new(MockOrderService)), http.MethodGet, "/statuses", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var views []order.StatusView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&views))
	assert.Len(t, views, len(order.Statuses()))
}
