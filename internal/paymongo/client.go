// Package paymongo is a minimal PayMongo API client covering checkout
// sessions and webhook signature verification.
package paymongo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.paymongo.com"

// Client talks to the PayMongo REST API using secret-key Basic auth.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(secretKey string) *Client {
	return &Client{
		BaseURL:   DefaultBaseURL,
		SecretKey: secretKey,
		Timeout:   15 * time.Second,
	}
}

// CheckoutParams describes a single-line-item checkout session.
type CheckoutParams struct {
	Description        string
	LineItemName       string
	Amount             int64 // minor units (centavos)
	Currency           string
	Quantity           int
	PaymentMethodTypes []string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

// CheckoutSession is the subset of the gateway response the engine needs.
type CheckoutSession struct {
	ID          string
	CheckoutURL string
}

type apiEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CheckoutURL string `json:"checkout_url"`
		} `json:"attributes"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateCheckoutSession creates a hosted checkout session. The gateway is
// called exactly once; callers own any retry policy.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	if c.SecretKey == "" {
		return CheckoutSession{}, errors.New("paymongo: secret key not configured")
	}
	if params.Quantity <= 0 {
		params.Quantity = 1
	}
	body := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"send_email_receipt": false,
				"show_description":   true,
				"show_line_items":    true,
				"description":        params.Description,
				"line_items": []map[string]any{{
					"currency": params.Currency,
					"amount":   params.Amount,
					"name":     params.LineItemName,
					"quantity": params.Quantity,
				}},
				"payment_method_types": params.PaymentMethodTypes,
				"success_url":          params.SuccessURL,
				"cancel_url":           params.CancelURL,
				"metadata":             params.Metadata,
			},
		},
	}
	var resp apiEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/checkout_sessions", body, &resp); err != nil {
		return CheckoutSession{}, err
	}
	if resp.Data.ID == "" || resp.Data.Attributes.CheckoutURL == "" {
		return CheckoutSession{}, errors.New("paymongo: checkout session response missing id or checkout_url")
	}
	return CheckoutSession{ID: resp.Data.ID, CheckoutURL: resp.Data.Attributes.CheckoutURL}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out *apiEnvelope) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	url := strings.TrimRight(c.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.SecretKey+":")))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("paymongo: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("paymongo: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 {
			e := envelope.Errors[0]
			if e.Detail != "" {
				return fmt.Errorf("paymongo: %s", e.Detail)
			}
			if e.Code != "" {
				return fmt.Errorf("paymongo: %s", e.Code)
			}
		}
		return fmt.Errorf("paymongo: request failed with status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("paymongo: decode response: %w", err)
		}
	}
	return nil
}
