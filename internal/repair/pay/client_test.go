package pay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestVerifyHMAC(t *testing.T) {
	c := NewClient(nil, "http://example", "m1", "secret", "", "BYN")
	body := []byte("{\"ok\":true}")
	signature := c.sign(body)
	if !VerifyHMAC(body, signature, "secret") {
		t.Fatal("expected signature to be valid")
	}
	if VerifyHMAC(body, "deadbeef", "secret") {
		t.Fatal("unexpected valid signature")
	}
	if VerifyHMAC([]byte("{\"ok\":false}"), signature, "secret") {
		t.Fatal("tampered body must not verify")
	}
	if VerifyHMAC(body, "", "secret") {
		t.Fatal("empty signature must not verify")
	}
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Fatalf("missing idempotency key")
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["amount"] != "150.50" {
			t.Fatalf("unexpected amount %v", payload["amount"])
		}
		if payload["currency"] != "BYN" {
			t.Fatalf("unexpected currency %v", payload["currency"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     true,
			"order_id":    "ord-1",
			"payment_url": "https://pay.example/ord-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "m1", "secret", "https://bot.example/cb", "BYN")
	order, err := c.CreateOrder(context.Background(), decimal.RequireFromString("150.5"), "repair #1")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "ord-1" || order.PaymentURL != "https://pay.example/ord-1" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:1", "m1", "secret", "", "BYN")
	if _, err := c.CreateOrder(context.Background(), decimal.Zero, "x"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestPollStatus(t *testing.T) {
	cases := []struct {
		state  string
		paid   bool
		failed bool
	}{
		{"paid", true, false},
		{"PENDING", false, false},
		{"declined", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/orders/ord-7" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(map[string]string{"state": tc.state})
			}))
			defer srv.Close()

			c := NewClient(srv.Client(), srv.URL, "m1", "secret", "", "BYN")
			st, err := c.PollStatus(context.Background(), "ord-7")
			if err != nil {
				t.Fatalf("PollStatus: %v", err)
			}
			if st.Paid != tc.paid || st.Failed() != tc.failed {
				t.Fatalf("unexpected status %+v", st)
			}
		})
	}
}

func TestPollStatusGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "m1", "secret", "", "BYN")
	if _, err := c.PollStatus(context.Background(), "ord-7"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestParseCallback(t *testing.T) {
	c := NewClient(nil, "http://example", "m1", "secret", "", "BYN")
	body := []byte(`{"order_id":"ord-9","state":"paid"}`)
	cb, err := c.ParseCallback(body, c.sign(body))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if cb.OrderID != "ord-9" || !cb.Paid() {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if _, err := c.ParseCallback(body, "00"); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}
