package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioProvider sends messages via the Twilio REST API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string
	priority   int
	baseURL    string
	client     http.Client
}

// NewTwilioProvider creates a TwilioProvider. If baseURL is empty, the
// Twilio production API is used (tests pass an httptest server URL).
func NewTwilioProvider(accountSID, authToken, fromNumber string, priority int, baseURL string) *TwilioProvider {
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		priority:   priority,
		baseURL:    baseURL,
	}
}

func (p *TwilioProvider) Name() string  { return "twilio" }
func (p *TwilioProvider) Priority() int { return p.priority }

func (p *TwilioProvider) Send(ctx context.Context, to, message, callbackURL string) (SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.fromNumber)
	form.Set("Body", message)
	if callbackURL != "" {
		form.Set("StatusCallback", callbackURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return SendResult{}, fmt.Errorf("twilio: error %d: %s: %w", errResp.Code, errResp.Message, ErrSendRejected)
		}
		return SendResult{}, fmt.Errorf("twilio: status %d: %s: %w", resp.StatusCode, string(respBody), ErrSendRejected)
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SendResult{}, fmt.Errorf("twilio: parse response: %w", err)
	}

	return SendResult{MessageID: parsed.SID}, nil
}

func (p *TwilioProvider) Poll(ctx context.Context, messageID string) (DeliveryStatus, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", p.baseURL, p.accountSID, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusPending, fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return StatusPending, fmt.Errorf("twilio: poll request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return StatusPending, fmt.Errorf("twilio: parse poll response: %w", err)
	}
	return twilioStatus(parsed.Status), nil
}

// ParseReceipt decodes a Twilio status callback, which arrives
// form-encoded (MessageSid, MessageStatus, ErrorCode).
func (p *TwilioProvider) ParseReceipt(payload []byte) (Receipt, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: parse receipt: %w", err)
	}
	sid := values.Get("MessageSid")
	if sid == "" {
		return Receipt{}, fmt.Errorf("twilio: receipt missing MessageSid")
	}
	return Receipt{
		MessageID:     sid,
		Status:        twilioStatus(values.Get("MessageStatus")),
		FailureReason: values.Get("ErrorCode"),
	}, nil
}

func twilioStatus(s string) DeliveryStatus {
	switch s {
	case "delivered":
		return StatusDelivered
	case "sent":
		return StatusSent
	case "failed", "undelivered", "canceled":
		return StatusFailed
	default:
		// queued, accepted, sending, receiving
		return StatusPending
	}
}

var _ Provider = (*TwilioProvider)(nil)
