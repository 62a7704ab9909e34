package paymongo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateCheckoutSession(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout_sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"cs_123","attributes":{"checkout_url":"https://pay.example/cs_123"}}}`))
	}))
	defer ts.Close()

	client := New("sk_test_abc")
	client.BaseURL = ts.URL
	sess, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{
		Description:        "Donation for Bantay",
		LineItemName:       "Bantay",
		Amount:             50000,
		Currency:           "PHP",
		PaymentMethodTypes: []string{"gcash", "card"},
		SuccessURL:         "https://app.example/thanks",
		CancelURL:          "https://app.example/cancel",
		Metadata:           map[string]string{"donation_id": "d1", "animal_id": "a1"},
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if sess.ID != "cs_123" || sess.CheckoutURL != "https://pay.example/cs_123" {
		t.Fatalf("unexpected session %+v", sess)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("sk_test_abc:"))
	if gotAuth != wantAuth {
		t.Fatalf("auth header = %q", gotAuth)
	}
	attrs := gotBody["data"].(map[string]any)["attributes"].(map[string]any)
	items := attrs["line_items"].([]any)
	if len(items) != 1 {
		t.Fatalf("line_items = %v", items)
	}
	item := items[0].(map[string]any)
	if item["amount"].(float64) != 50000 || item["quantity"].(float64) != 1 {
		t.Fatalf("line item = %v", item)
	}
}

func TestCreateCheckoutSessionGatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"code":"parameter_invalid","detail":"amount must be at least 2000"}]}`))
	}))
	defer ts.Close()

	client := New("sk_test_abc")
	client.BaseURL = ts.URL
	_, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{Amount: 100, Currency: "PHP"})
	if err == nil || !strings.Contains(err.Error(), "amount must be at least 2000") {
		t.Fatalf("want detail error, got %v", err)
	}
}

func TestCreateCheckoutSessionMissingURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"cs_123","attributes":{}}}`))
	}))
	defer ts.Close()

	client := New("sk_test_abc")
	client.BaseURL = ts.URL
	_, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{Amount: 50000, Currency: "PHP"})
	if err == nil {
		t.Fatal("expected error for missing checkout_url")
	}
}

func signBody(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsk_secret"
	body := []byte(`{"data":{"attributes":{"type":"checkout_session.payment.paid"}}}`)
	sig := signBody(secret, "1724900000", body)

	cases := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"live match", "t=1724900000,te=,li=" + sig, false},
		{"test match", "t=1724900000,te=" + sig + ",li=", false},
		{"wrong secret", "t=1724900000,te=,li=" + signBody("other", "1724900000", body), true},
		{"tampered timestamp", "t=1724900001,te=,li=" + sig, true},
		{"missing digests", "t=1724900000", true},
		{"garbage", "not-a-header", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyWebhookSignature(secret, tc.header, body)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if err := VerifyWebhookSignature(secret, "t=1724900000,te=,li="+sig, []byte("tampered")); err == nil {
		t.Fatal("expected error for tampered body")
	}
}
