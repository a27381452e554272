package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStripeClient_CreateCheckoutSession_SendsFormParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error: %v", err)
		}

		want := map[string]string{
			"mode":                                                 "payment",
			"line_items[0][quantity]":                              "1",
			"line_items[0][price_data][currency]":                  "usd",
			"line_items[0][price_data][unit_amount]":               "999",
			"line_items[0][price_data][product_data][name]":        "Spanish Essentials",
			"line_items[0][price_data][product_data][description]": "Language: Spanish",
			"success_url":                                          "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}",
			"cancel_url":                                           "http://localhost:3000/checkout/cancel",
			"customer_email":                                       "alice@example.com",
			"metadata[userId]":                                     "u-1",
			"metadata[pdfId]":                                      "i-1",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form[%s] = %q, want %q", k, got, v)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"url":            "https://checkout.stripe.com/c/pay/cs_test_1",
			"payment_status": "unpaid",
			"payment_intent": nil,
		})
	}))
	defer server.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", APIBase: server.URL})
	session, err := client.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		AmountCents:   999,
		Currency:      "usd",
		ProductName:   "Spanish Essentials",
		Description:   "Language: Spanish",
		SuccessURL:    "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "http://localhost:3000/checkout/cancel",
		CustomerEmail: "alice@example.com",
		Metadata:      map[string]string{MetadataUserID: "u-1", MetadataItemID: "i-1"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession() error: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Errorf("session = %+v", session)
	}
	if session.Paid() {
		t.Error("Paid() = true for unpaid session")
	}
	if session.PaymentReference() != "cs_test_1" {
		t.Errorf("PaymentReference() = %q, want session id fallback", session.PaymentReference())
	}
}

func TestStripeClient_RetrieveCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_test_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"amount_total":   999,
			"currency":       "usd",
			"metadata":       map[string]string{"userId": "u-1", "pdfId": "i-1"},
		})
	}))
	defer server.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", APIBase: server.URL})
	session, err := client.RetrieveCheckoutSession(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("RetrieveCheckoutSession() error: %v", err)
	}
	if !session.Paid() {
		t.Error("Paid() = false, want true")
	}
	if session.PaymentReference() != "pi_123" {
		t.Errorf("PaymentReference() = %q, want %q", session.PaymentReference(), "pi_123")
	}
	if !session.Amount().Equal(decimal.RequireFromString("9.99")) {
		t.Errorf("Amount() = %s, want 9.99", session.Amount())
	}
	if session.Metadata[MetadataUserID] != "u-1" || session.Metadata[MetadataItemID] != "i-1" {
		t.Errorf("Metadata = %v", session.Metadata)
	}
}

func TestStripeClient_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"type":    "invalid_request_error",
				"code":    "resource_missing",
				"message": "No such checkout.session: cs_missing",
			},
		})
	}))
	defer server.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", APIBase: server.URL})
	_, err := client.RetrieveCheckoutSession(context.Background(), "cs_missing")

	var stripeErr *StripeError
	if !errors.As(err, &stripeErr) {
		t.Fatalf("expected *StripeError, got %v", err)
	}
	if stripeErr.StatusCode != http.StatusNotFound || stripeErr.Code != "resource_missing" {
		t.Errorf("StripeError = %+v", stripeErr)
	}
}

func TestStripeClient_ExpandedPaymentIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_2",
			"payment_status": "paid",
			"payment_intent": map[string]any{"id": "pi_expanded", "object": "payment_intent"},
			"amount_total":   1250,
		})
	}))
	defer server.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", APIBase: server.URL})
	session, err := client.RetrieveCheckoutSession(context.Background(), "cs_test_2")
	if err != nil {
		t.Fatalf("RetrieveCheckoutSession() error: %v", err)
	}
	if session.PaymentReference() != "pi_expanded" {
		t.Errorf("PaymentReference() = %q, want pi_expanded", session.PaymentReference())
	}
	if !session.Amount().Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("Amount() = %s, want 12.50", session.Amount())
	}
}

func TestStripeClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk", APIBase: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.RetrieveCheckoutSession(context.Background(), "cs")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	// 通信エラーはAPIエラーとして扱わない
	var stripeErr *StripeError
	if errors.As(err, &stripeErr) {
		t.Errorf("expected transport error, got %+v", stripeErr)
	}
}
