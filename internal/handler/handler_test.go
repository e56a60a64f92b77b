package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/domain/page"
	"github.com/xenking/retail-orders/internal/domain/product"
)

const (
	testPepper   = "pepper"
	userKey      = "user-key"
	otherUserKey = "other-key"
	adminKey     = "admin-key"
)

type mapKeys map[string]*auth.APIKeyInfo

func (m mapKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return info, nil
}

func newKeys() mapKeys {
	keys := mapKeys{}
	add := func(raw, userID string, scopes ...string) {
		h := HashKey([]byte(testPepper), raw)
		keys[h] = &auth.APIKeyInfo{ID: raw, KeyHash: h, UserID: userID, Scopes: scopes}
	}
	add(userKey, "u1")
	add(otherUserKey, "u2")
	add(adminKey, "ops", auth.ScopeAdmin)
	return keys
}

type fakeOrders struct {
	placed  order.PlaceOrderRequest
	patch   order.Patch
	placeFn func(req order.PlaceOrderRequest) (*order.Order, error)
	err     error
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	f.placed = req
	if f.placeFn != nil {
		return f.placeFn(req)
	}
	return nil, f.err
}

func (f *fakeOrders) UpdateOrder(_ context.Context, id string, patch order.Patch) (*order.Order, error) {
	f.patch = patch
	if f.err != nil {
		return nil, f.err
	}
	o := testOrder(id, "u1", order.StatusCreated)
	if patch.City != nil {
		o.Recipient.City = *patch.City
	}
	return o, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, id string) (*order.Transition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &order.Transition{OrderID: id, From: order.StatusCreated, To: order.StatusCanceled}, nil
}

func (f *fakeOrders) AdvanceOrder(_ context.Context, id string) (*order.Transition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &order.Transition{
		OrderID: id,
		From:    order.StatusCreated,
		To:      order.StatusPaid,
		Order:   testOrder(id, "u1", order.StatusPaid),
	}, nil
}

type fakeQueries struct {
	orders  map[string]*order.Order
	items   page.Page[order.ItemView]
	listReq page.Request
	listErr error
}

func (f *fakeQueries) GetOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, &order.NotFoundError{Kind: "order", ID: id}
	}
	return o, nil
}

func (f *fakeQueries) GetStatus(ctx context.Context, id string) (order.Status, error) {
	o, err := f.GetOrder(ctx, id)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func (f *fakeQueries) ListItems(_ context.Context, _ string, req page.Request) (page.Page[order.ItemView], error) {
	f.listReq = req
	return f.items, f.listErr
}

func (f *fakeQueries) ListUserOrders(_ context.Context, userID string, req page.Request) (page.Page[order.Order], error) {
	f.listReq = req
	if f.listErr != nil {
		return page.Page[order.Order]{}, f.listErr
	}
	var out []order.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return page.New(req, out, int64(len(out))), nil
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOrder(id, userID string, st order.Status) *order.Order {
	return &order.Order{
		ID:     id,
		UserID: userID,
		Recipient: order.Recipient{
			FirstName: "Ada", LastName: "Lovelace", Street: "12 St James's Square",
			PostalCode: "SW1Y 4JH", City: "London", Phone: "+44 20 7946 0000",
		},
		Delivery:  order.DeliveryCourier,
		Status:    st,
		CreatedAt: testTime,
		UpdatedAt: testTime,
		Version:   1,
	}
}

type testAPI struct {
	orders  *fakeOrders
	queries *fakeQueries
	srv     http.Handler
}

func newTestAPI() *testAPI {
	a := &testAPI{
		orders: &fakeOrders{},
		queries: &fakeQueries{orders: map[string]*order.Order{
			"o1": testOrder("o1", "u1", order.StatusCreated),
			"o2": testOrder("o2", "u2", order.StatusPaid),
		}},
	}
	h := NewHandler(a.orders, a.queries, NewSecurityHandler(newKeys(), []byte(testPepper)))
	a.srv = h.Routes()
	return a
}

func (a *testAPI) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	a.srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodGet, "/orders/o1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, float64(401), decodeBody(t, w)["code"])

	w = a.do(t, http.MethodGet, "/orders/o1", "wrong-key", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/orders/o1", userKey, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

const placeBody = `{"firstName":"Ada","lastName":"Lovelace","street":"12 St James's Square",
	"postalCode":"SW1Y 4JH","city":"London","phone":"+44 20 7946 0000","deliveryMethod":"COURIER_DELIVERY"}`

func TestPlaceOrder(t *testing.T) {
	a := newTestAPI()
	a.orders.placeFn = func(req order.PlaceOrderRequest) (*order.Order, error) {
		o := testOrder("new", req.UserID, order.StatusCreated)
		o.Items = []order.Item{{
			ID: "i1", OrderID: "new", ProductID: "p1", Quantity: 2,
			PriceAtPurchase: decimal.RequireFromString("6.5"), LineNo: 1,
		}}
		return o, nil
	}

	w := a.do(t, http.MethodPost, "/orders", userKey, placeBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/orders/new", w.Header().Get("Location"))

	assert.Equal(t, "u1", a.orders.placed.UserID)
	assert.Equal(t, order.DeliveryCourier, a.orders.placed.Delivery)
	assert.Equal(t, "SW1Y 4JH", a.orders.placed.Recipient.PostalCode)

	body := decodeBody(t, w)
	assert.Equal(t, "new", body["id"])
	assert.Equal(t, "CREATED", body["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["createdAt"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "6.50", item["priceAtPurchase"])
	assert.NotContains(t, item, "product")
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"invalid json", `{"firstName":`, nil, http.StatusBadRequest},
		{"unknown field", `{"status":"PAID"}`, nil, http.StatusBadRequest},
		{"non-string field", `{"city":42}`, nil, http.StatusBadRequest},
		{"validation", placeBody, &order.ValidationError{Field: "city", Message: "must not be blank"}, http.StatusBadRequest},
		{"empty cart", placeBody, order.ErrEmptyCart, http.StatusBadRequest},
		{"product gone", placeBody, &order.ProductNotFoundError{ProductID: "p9"}, http.StatusUnprocessableEntity},
		{"product unavailable", placeBody, errors.Wrap(&order.ProductUnavailableError{ProductID: "p1"}, "place"), http.StatusUnprocessableEntity},
		{"bad quantity", placeBody, errors.Wrap(&order.InvalidQuantityError{ProductID: "p1"}, "place"), http.StatusUnprocessableEntity},
		{"user gone", placeBody, &order.NotFoundError{Kind: "user", ID: "u1"}, http.StatusNotFound},
		{"cart changed", placeBody, errors.Wrap(order.ErrConflict, "create order"), http.StatusConflict},
		{"storage", placeBody, errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI()
			a.orders.err = tt.err

			w := a.do(t, http.MethodPost, "/orders", userKey, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, float64(tt.status), decodeBody(t, w)["code"])
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	a := newTestAPI()
	a.orders.err = &order.InvariantError{OrderID: "o1", Want: order.StatusPaid, Got: order.StatusCreated}

	w := a.do(t, http.MethodPost, "/orders/o1/cancel", userKey, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decodeBody(t, w)["message"])
}

func TestGetOrder_Visibility(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodGet, "/orders/o2", userKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "foreign orders look missing")

	w = a.do(t, http.MethodGet, "/orders/o2", adminKey, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/orders/missing", userKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "order missing not found", decodeBody(t, w)["message"])

	w = a.do(t, http.MethodGet, "/orders/o1", userKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "London", body["recipient"].(map[string]any)["city"])
	assert.Equal(t, "COURIER_DELIVERY", body["deliveryMethod"])
	assert.NotContains(t, body, "items")
}

func TestGetStatus(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodGet, "/orders/o1/status", userKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"orderId": "o1", "status": "CREATED"}, decodeBody(t, w))
}

func TestUpdateOrder(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodPatch, "/orders/o1", userKey, `{"city":"Paris"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, a.orders.patch.City)
	assert.Equal(t, "Paris", *a.orders.patch.City)
	assert.Nil(t, a.orders.patch.FirstName)
	assert.Nil(t, a.orders.patch.Delivery)
	assert.Equal(t, "Paris", decodeBody(t, w)["recipient"].(map[string]any)["city"])

	w = a.do(t, http.MethodPatch, "/orders/o1", userKey, `{"city":null}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a.orders.err = &order.InvalidStateError{OrderID: "o1", Op: "update", Status: order.StatusOnTheWay}
	w = a.do(t, http.MethodPatch, "/orders/o1", userKey, `{"deliveryMethod":"CUSTOMER_PICKUP"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "ON_THE_WAY")
	require.NotNil(t, a.orders.patch.Delivery)
	assert.Equal(t, order.DeliveryPickup, *a.orders.patch.Delivery)

	w = a.do(t, http.MethodPatch, "/orders/o2", userKey, `{"city":"Paris"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrder_MissingOrderBeforeBody(t *testing.T) {
	a := newTestAPI()

	for _, body := range []string{`{"city":" "}`, `{"city":null}`, `{"firstName":`, `{}`} {
		w := a.do(t, http.MethodPatch, "/orders/missing", userKey, body)
		assert.Equal(t, http.StatusNotFound, w.Code, body)
	}
	w := a.do(t, http.MethodPatch, "/orders/o2", userKey, `{"firstName":`)
	assert.Equal(t, http.StatusNotFound, w.Code, "foreign order hides the body error")

	a.orders.err = &order.ValidationError{Field: "body", Message: "no fields to update"}
	w = a.do(t, http.MethodPatch, "/orders/o1", userKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "no fields to update")
}

func TestCancelOrder(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodPost, "/orders/o1/cancel", userKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "CANCELED", body["to"])
	assert.Equal(t, "order o1 status changed from CREATED to CANCELED", body["message"])
}

func TestAdvanceOrder_RequiresAdmin(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodPost, "/orders/o1/advance", userKey, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/orders/o1/advance", adminKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "PAID", body["to"])
	assert.Equal(t, "PAID", body["order"].(map[string]any)["status"])

	a.orders.err = &order.InvalidStateError{OrderID: "o1", Op: "advance", Status: order.StatusReturned}
	w = a.do(t, http.MethodPost, "/orders/o1/advance", adminKey, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListOrders(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodGet, "/orders?page=0&size=5&sort=status&dir=desc", userKey, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, page.Request{Index: 0, Size: 5, Sort: "status", Desc: true}, a.queries.listReq)

	body := decodeBody(t, w)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["totalPages"])

	w = a.do(t, http.MethodGet, "/orders", userKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, page.Request{Size: defaultPageSize}, a.queries.listReq)

	a.queries.listReq = page.Request{}
	for _, q := range []string{"page=x", "size=ten", "dir=up", "page=-1", "size=0", "size=101", "page=184467440737095516&size=100"} {
		w = a.do(t, http.MethodGet, "/orders?"+q, userKey, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	assert.Zero(t, a.queries.listReq, "bad paging never reaches the query service")

	a.queries.listErr = &order.ValidationError{Field: "sort", Message: "unsupported"}
	w = a.do(t, http.MethodGet, "/orders?sort=price", userKey, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListItems(t *testing.T) {
	a := newTestAPI()
	a.queries.items = page.New(page.Request{Size: 2}, []order.ItemView{
		{
			Item: order.Item{ID: "i1", ProductID: "p1", Quantity: 1, PriceAtPurchase: decimal.RequireFromString("3.5"), LineNo: 1},
			Product: &product.Product{
				ID: "p1", Name: "Waffle", Price: decimal.RequireFromString("4"), Available: true,
				Image: product.Image{Thumbnail: "t.jpg"},
			},
		},
		{
			Item: order.Item{ID: "i2", ProductID: "gone", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("1"), LineNo: 2},
		},
	}, 3)

	w := a.do(t, http.MethodGet, "/orders/o1/items?size=2&sort=price", userKey, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["totalPages"])
	items := body["items"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "3.50", first["priceAtPurchase"])
	p := first["product"].(map[string]any)
	assert.Equal(t, "4.00", p["price"])
	assert.Equal(t, "t.jpg", p["image"].(map[string]any)["thumbnail"])

	second := items[1].(map[string]any)
	assert.Contains(t, second, "product")
	assert.Nil(t, second["product"])

	w = a.do(t, http.MethodGet, "/orders/o2/items", userKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/orders/o1/items?page=184467440737095516&size=100", userKey, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "out of range")
}

func TestUnknownRoute(t *testing.T) {
	a := newTestAPI()

	w := a.do(t, http.MethodGet, "/nope", userKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodDelete, "/orders/o1", userKey, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
