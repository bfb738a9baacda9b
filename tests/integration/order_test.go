//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var (
	uuidPattern      = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	orderCodePattern = regexp.MustCompile(`^[1-9][0-9]{9}$`)
)

func newOrderRequest(method string) orderRequest {
	return orderRequest{
		Items: []orderItem{
			{ProductID: "P1", Price: 1000, Quantity: 2},
			{ProductID: "P2", Price: 500, Quantity: 1, UseInsurance: true},
		},
		PaymentMethod:    method,
		ReceivingAddress: "1 Tran Hung Dao",
		ReceivingPhone:   "0900000001",
		Receiver:         "Linh",
		DeliveryDate:     "2024-11-28T01:35:02.850Z",
	}
}

func createOrder(t *testing.T, buyerID, method string) orderResponse {
	t.Helper()

	resp := do(t, http.MethodPost, "/orders", token(t, buyerID, ""), newOrderRequest(method))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[orderResponse](t, resp)
}

func TestCreateOrder_NoAuth(t *testing.T) {
	resp := do(t, http.MethodPost, "/orders", "", newOrderRequest("CASH"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_ForgedToken(t *testing.T) {
	resp := do(t, http.MethodPost, "/orders", "not-a-jwt", newOrderRequest("CASH"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_Totals(t *testing.T) {
	o := createOrder(t, "B1", "BANK_TRANSFER")

	if !uuidPattern.MatchString(o.ID) {
		t.Errorf("id %q is not a UUID", o.ID)
	}
	if !orderCodePattern.MatchString(o.OrderCode) {
		t.Errorf("orderCode %q is not 10 digits without a leading zero", o.OrderCode)
	}
	if o.TotalPrice != 2500 {
		t.Errorf("totalPrice: got %d, want 2500", o.TotalPrice)
	}
	if o.State != "ORDERED" {
		t.Errorf("state: got %q, want ORDERED", o.State)
	}
	if o.PaymentState {
		t.Error("new order is already paid")
	}
	if o.BuyerID != "B1" {
		t.Errorf("buyerId: got %q, want B1", o.BuyerID)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name       string
		req        orderRequest
		wantStatus int
	}{
		{
			name:       "empty items",
			req:        orderRequest{PaymentMethod: "CASH"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "fractional price",
			req: orderRequest{
				Items:         []orderItem{{ProductID: "P1", Price: 10.5, Quantity: 1}},
				PaymentMethod: "CASH",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "zero quantity",
			req: orderRequest{
				Items:         []orderItem{{ProductID: "P1", Price: 1000, Quantity: 0}},
				PaymentMethod: "CASH",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown payment method",
			req: orderRequest{
				Items:         []orderItem{{ProductID: "P1", Price: 1000, Quantity: 1}},
				PaymentMethod: "BARTER",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			req: orderRequest{
				Items:         []orderItem{{ProductID: "missing", Price: 1000, Quantity: 1}},
				PaymentMethod: "CASH",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/orders", token(t, "B1", ""), tt.req)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			body := decodeJSON[errorResponse](t, resp)
			if body.Code != tt.wantStatus || body.Message == "" {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestGetOrder_Enriched(t *testing.T) {
	created := createOrder(t, "B1", "CASH")

	resp := do(t, http.MethodGet, "/orders/"+created.ID, token(t, "B1", ""), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	o := decodeJSON[orderResponse](t, resp)
	if o.Buyer == nil || o.Buyer.Name == "" {
		t.Error("buyer projection missing")
	}
	if len(o.Items) != 2 || o.Items[0].Product == nil {
		t.Fatalf("line items not enriched: %+v", o.Items)
	}
	if o.Items[0].Product.SoldQuantity < 2 {
		t.Errorf("sold quantity not applied: %d", o.Items[0].Product.SoldQuantity)
	}
}

func TestGetOrder_OtherBuyer(t *testing.T) {
	created := createOrder(t, "B1", "CASH")

	resp := do(t, http.MethodGet, "/orders/"+created.ID, token(t, "B2", ""), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetOrders_OwnOnly(t *testing.T) {
	createOrder(t, "B2", "CASH")

	resp := do(t, http.MethodGet, "/orders", token(t, "B2", ""), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	orders := decodeJSON[[]orderResponse](t, resp)
	if len(orders) == 0 {
		t.Fatal("expected at least one order")
	}
	for _, o := range orders {
		if o.BuyerID != "B2" {
			t.Errorf("order %s belongs to %s", o.ID, o.BuyerID)
		}
	}
}

func TestAdmin_StateAndDelete(t *testing.T) {
	created := createOrder(t, "B1", "CASH")
	admin := token(t, "ops", "admin")

	resp := do(t, http.MethodPost, "/orders/"+created.ID+"/state", token(t, "B1", ""), map[string]string{"state": "PACKED"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("buyer state change: expected 403, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, "/orders/"+created.ID+"/state", admin, map[string]string{"state": "PACKED"})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	o := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()
	if o.State != "PACKED" {
		t.Errorf("state: got %q, want PACKED", o.State)
	}

	resp = do(t, http.MethodPost, "/orders/"+created.ID+"/state", admin, map[string]string{"state": "LOST"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown state: expected 400, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, "/orders/"+created.ID, admin, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, "/orders/"+created.ID, admin, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted order: expected 404, got %d", resp.StatusCode)
	}
}
