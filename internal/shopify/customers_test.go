package shopify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/shopify"
)

func newDirectory(t *testing.T, handler http.HandlerFunc) *shopify.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return shopify.NewClient("shop.example.com", "key", "secret", srv.URL)
}

func TestFindByEmail(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/admin/api/2024-01/customers/search.json", r.URL.Path)
			assert.Equal(t, "email:ada@example.com", r.URL.Query().Get("query"))

			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)

			_ = json.NewEncoder(w).Encode(map[string]any{
				"customers": []map[string]any{{
					"id": 7001, "email": "ada@example.com", "first_name": "Ada", "last_name": "Lovelace",
				}},
			})
		})

		customer, err := client.FindByEmail(context.Background(), "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "7001", customer.ID)
		assert.Equal(t, "Ada", customer.FirstName)
	})

	t.Run("miss", func(t *testing.T) {
		client := newDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"customers": []any{}})
		})

		_, err := client.FindByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("upstream failure", func(t *testing.T) {
		client := newDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.FindByEmail(context.Background(), "ada@example.com")
		assert.ErrorIs(t, err, domain.ErrDirectoryFailure)
	})
}

func TestCreate(t *testing.T) {
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/api/2024-01/customers.json", r.URL.Path)

		var body struct {
			Customer map[string]any `json:"customer"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15551234567@phone.local", body.Customer["email"])
		assert.Equal(t, "+15551234567", body.Customer["phone"])
		assert.Equal(t, "sms-auth", body.Customer["tags"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"customer": map[string]any{"id": 7002, "email": body.Customer["email"]},
		})
	})

	customer, err := client.Create(context.Background(), shopify.CreateParams{
		Email: "+15551234567@phone.local",
		Phone: "+15551234567",
		Tags:  []string{"sms-auth"},
	})
	require.NoError(t, err)
	assert.Equal(t, "7002", customer.ID)
}

func TestMetadataRoundTrip(t *testing.T) {
	written := map[string]string{}
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Metafield struct {
					Namespace string `json:"namespace"`
					Key       string `json:"key"`
					Value     string `json:"value"`
				} `json:"metafield"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "auth", body.Metafield.Namespace)
			written[body.Metafield.Key] = body.Metafield.Value
			_ = json.NewEncoder(w).Encode(map[string]any{})
		case http.MethodGet:
			var fields []map[string]any
			for k, v := range written {
				fields = append(fields, map[string]any{"key": k, "value": v})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"metafields": fields})
		}
	})

	ctx := context.Background()
	require.NoError(t, client.SetMetadata(ctx, "7001", map[string]string{
		"auth_method":    "sms",
		"phone_verified": "true",
	}))

	value, err := client.GetMetadata(ctx, "7001", "auth_method")
	require.NoError(t, err)
	assert.Equal(t, "sms", value)

	_, err = client.GetMetadata(ctx, "7001", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
