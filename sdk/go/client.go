// Package pawfundsdk is a minimal PawFund HTTP API client.
package pawfundsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal PawFund HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Animal represents the API animal model (partial).
type Animal struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Status       string `json:"status"`
	Name         string `json:"name"`
	GoalAmount   *int64 `json:"goal_amount,omitempty"`
	RaisedAmount int64  `json:"raised_amount"`
}

// Donation represents a paid donation entry.
type Donation struct {
	ID        string  `json:"id"`
	AnimalID  string  `json:"animal_id"`
	DonorName *string `json:"donor_name,omitempty"`
	Amount    int64   `json:"amount"`
	Status    string  `json:"status"`
	PaidAt    *string `json:"paid_at,omitempty"`
}

// Checkout is the response to a checkout request.
type Checkout struct {
	DonationID  string `json:"donation_id"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
}

// Notification represents a goal-reached notification.
type Notification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	AnimalID  string  `json:"animal_id"`
	Message   string  `json:"message"`
	ReadAt    *string `json:"read_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// ListAnimals returns the catalog, optionally filtered by category.
func (c *Client) ListAnimals(ctx context.Context, category string) ([]Animal, error) {
	endpoint := "v1/animals"
	if category != "" {
		endpoint += "?category=" + url.QueryEscape(category)
	}
	var out []Animal
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

// GetAnimal returns one animal.
func (c *Client) GetAnimal(ctx context.Context, id string) (Animal, error) {
	var out Animal
	err := c.do(ctx, http.MethodGet, "v1/animals/"+url.PathEscape(id), nil, &out)
	return out, err
}

// ListPaidDonations returns an animal's paid donations.
func (c *Client) ListPaidDonations(ctx context.Context, animalID string) ([]Donation, error) {
	var out []Donation
	err := c.do(ctx, http.MethodGet, "v1/animals/"+url.PathEscape(animalID)+"/donations", nil, &out)
	return out, err
}

// CreateCheckout starts a donation checkout and returns the redirect URL.
func (c *Client) CreateCheckout(ctx context.Context, animalID string, amount int64, donorName string, anonymous bool) (Checkout, error) {
	body := map[string]any{"amount": amount, "anonymous": anonymous}
	if donorName != "" {
		body["donor_name"] = donorName
	}
	var out Checkout
	err := c.do(ctx, http.MethodPost, "v1/animals/"+url.PathEscape(animalID)+"/checkout", body, &out)
	return out, err
}

// ListNotifications returns notifications, newest first (admin).
func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	err := c.do(ctx, http.MethodGet, "v1/admin/notifications", nil, &out)
	return out, err
}

// MarkNotificationRead marks a notification as read (admin).
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	var out Notification
	err := c.do(ctx, http.MethodPatch, "v1/admin/notifications/"+url.PathEscape(id)+"/read", nil, &out)
	return out, err
}

// RecordPaidDonation records an offline donation (admin); returns the updated animal.
func (c *Client) RecordPaidDonation(ctx context.Context, animalID string, amount int64, donorName string) (Animal, error) {
	body := map[string]any{"amount": amount}
	if donorName != "" {
		body["donor_name"] = donorName
	}
	var out Animal
	err := c.do(ctx, http.MethodPost, "v1/admin/animals/"+url.PathEscape(animalID)+"/donations/paid", body, &out)
	return out, err
}

// AttachReceipt finalizes a completed fundraiser (admin).
func (c *Client) AttachReceipt(ctx context.Context, animalID, receiptURL string) (Animal, error) {
	var out Animal
	err := c.do(ctx, http.MethodPost, "v1/admin/animals/"+url.PathEscape(animalID)+"/receipt", map[string]any{"receipt_url": receiptURL}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
