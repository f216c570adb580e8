package sms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/sms"
)

func TestTwilioSend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)

			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "AC123", user)
			assert.Equal(t, "token", pass)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
			assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
			assert.Equal(t, "hello", r.PostForm.Get("Body"))
			assert.Equal(t, "https://svc.example.com/dlr", r.PostForm.Get("StatusCallback"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"sid": "SM1", "status": "queued"})
		}))
		defer srv.Close()

		p := sms.NewTwilioProvider("AC123", "token", "+15550000000", 2, srv.URL)
		result, err := p.Send(context.Background(), "+15551234567", "hello", "https://svc.example.com/dlr")
		require.NoError(t, err)
		assert.Equal(t, "SM1", result.MessageID)
	})

	t.Run("api rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 21211, "message": "invalid 'To' number"})
		}))
		defer srv.Close()

		p := sms.NewTwilioProvider("AC123", "token", "+15550000000", 2, srv.URL)
		_, err := p.Send(context.Background(), "bad", "hello", "")
		assert.ErrorIs(t, err, sms.ErrSendRejected)
	})

	t.Run("transport failure is not a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close() // connection refused

		p := sms.NewTwilioProvider("AC123", "token", "+15550000000", 2, srv.URL)
		_, err := p.Send(context.Background(), "+15551234567", "hello", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, sms.ErrSendRejected)
	})
}

func TestTwilioPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages/SM1.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "delivered"})
	}))
	defer srv.Close()

	p := sms.NewTwilioProvider("AC123", "token", "+15550000000", 2, srv.URL)
	status, err := p.Poll(context.Background(), "SM1")
	require.NoError(t, err)
	assert.Equal(t, sms.StatusDelivered, status)
}

func TestTwilioParseReceipt(t *testing.T) {
	p := sms.NewTwilioProvider("AC123", "token", "+15550000000", 2, "")

	t.Run("maps provider states to the canonical vocabulary", func(t *testing.T) {
		cases := map[string]sms.DeliveryStatus{
			"queued":      sms.StatusPending,
			"sending":     sms.StatusPending,
			"sent":        sms.StatusSent,
			"delivered":   sms.StatusDelivered,
			"failed":      sms.StatusFailed,
			"undelivered": sms.StatusFailed,
		}
		for provider, want := range cases {
			receipt, err := p.ParseReceipt([]byte("MessageSid=SM1&MessageStatus=" + provider))
			require.NoError(t, err, provider)
			assert.Equal(t, want, receipt.Status, provider)
			assert.Equal(t, "SM1", receipt.MessageID)
		}
	})

	t.Run("carries the failure reason", func(t *testing.T) {
		receipt, err := p.ParseReceipt([]byte("MessageSid=SM1&MessageStatus=failed&ErrorCode=30003"))
		require.NoError(t, err)
		assert.Equal(t, "30003", receipt.FailureReason)
	})

	t.Run("rejects a payload without a message id", func(t *testing.T) {
		_, err := p.ParseReceipt([]byte("MessageStatus=delivered"))
		assert.Error(t, err)
	})
}
