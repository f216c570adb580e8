// Package shopify holds the customer-directory client for the platform
// Admin API and the webhook signature verifier.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kossrlive/isignin/internal/domain"
)

const apiVersion = "2024-01"

// metafields used by the authentication flows. Password hashes live in a
// customer metafield because the platform has no credential field.
const (
	MetafieldNamespace   = "auth"
	MetafieldPasswordKey = "password_hash"
)

// Customer is the directory's view of a customer.
type Customer struct {
	ID        string
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Tags      string
}

// CreateParams are the inputs for creating a customer.
type CreateParams struct {
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Tags      []string
}

// Client calls the platform Admin API. It is stateless and safe for
// concurrent use.
type Client struct {
	shopDomain string
	apiKey     string
	apiSecret  string
	baseURL    string
	client     http.Client
}

// NewClient creates a directory client for the given shop. If baseURL is
// empty the shop's Admin API is used (tests pass an httptest server URL).
func NewClient(shopDomain, apiKey, apiSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://" + shopDomain
	}
	return &Client{
		shopDomain: shopDomain,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		client:     http.Client{Timeout: domain.DirectoryTimeout},
	}
}

type wireCustomer struct {
	ID        int64  `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Tags      string `json:"tags,omitempty"`
}

func (w wireCustomer) toCustomer() *Customer {
	return &Customer{
		ID:        strconv.FormatInt(w.ID, 10),
		Email:     w.Email,
		Phone:     w.Phone,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Tags:      w.Tags,
	}
}

// FindByEmail looks a customer up by exact email. Returns
// domain.ErrNotFound when no customer matches.
func (c *Client) FindByEmail(ctx context.Context, email string) (*Customer, error) {
	return c.search(ctx, "email:"+email)
}

// FindByPhone looks a customer up by exact phone. Returns
// domain.ErrNotFound when no customer matches.
func (c *Client) FindByPhone(ctx context.Context, phone string) (*Customer, error) {
	return c.search(ctx, "phone:"+phone)
}

func (c *Client) search(ctx context.Context, query string) (*Customer, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/customers/search.json?query=%s",
		c.baseURL, apiVersion, url.QueryEscape(query))

	var result struct {
		Customers []wireCustomer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Customers) == 0 {
		return nil, domain.ErrNotFound
	}
	return result.Customers[0].toCustomer(), nil
}

// Create registers a new customer.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Customer, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/customers.json", c.baseURL, apiVersion)

	body := map[string]any{
		"customer": map[string]any{
			"email":          params.Email,
			"phone":          params.Phone,
			"first_name":     params.FirstName,
			"last_name":      params.LastName,
			"tags":           joinTags(params.Tags),
			"verified_email": true,
		},
	}

	var result struct {
		Customer wireCustomer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, body, &result); err != nil {
		return nil, err
	}
	return result.Customer.toCustomer(), nil
}

// SetMetadata writes the given fields as customer metafields under the
// auth namespace (auth_method, phone_verified, last_login, password_hash).
func (c *Client) SetMetadata(ctx context.Context, customerID string, fields map[string]string) error {
	endpoint := fmt.Sprintf("%s/admin/api/%s/customers/%s/metafields.json",
		c.baseURL, apiVersion, customerID)

	for key, value := range fields {
		body := map[string]any{
			"metafield": map[string]any{
				"namespace": MetafieldNamespace,
				"key":       key,
				"value":     value,
				"type":      "single_line_text_field",
			},
		}
		if err := c.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// GetMetadata reads one metafield value for a customer. Returns
// domain.ErrNotFound when the field is unset.
func (c *Client) GetMetadata(ctx context.Context, customerID, key string) (string, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/customers/%s/metafields.json?namespace=%s&key=%s",
		c.baseURL, apiVersion, customerID, MetafieldNamespace, url.QueryEscape(key))

	var result struct {
		Metafields []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"metafields"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return "", err
	}
	for _, mf := range result.Metafields {
		if mf.Key == key {
			return mf.Value, nil
		}
	}
	return "", domain.ErrNotFound
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %v: %w", err, domain.ErrDirectoryFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory: status %d: %s: %w", resp.StatusCode, string(detail), domain.ErrDirectoryFailure)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("directory: decode response: %w", err)
		}
	}
	return nil
}

func joinTags(tags []string) string {
	var buf bytes.Buffer
	for i, t := range tags {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(t)
	}
	return buf.String()
}
