package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const smstoDefaultBaseURL = "https://api.sms.to"

// SMSToProvider sends messages via the SMS.to REST API.
type SMSToProvider struct {
	apiKey   string
	senderID string
	priority int
	baseURL  string
	client   http.Client
}

// NewSMSToProvider creates an SMSToProvider. If baseURL is empty, the
// production API is used (tests pass an httptest server URL).
func NewSMSToProvider(apiKey, senderID string, priority int, baseURL string) *SMSToProvider {
	if baseURL == "" {
		baseURL = smstoDefaultBaseURL
	}
	return &SMSToProvider{
		apiKey:   apiKey,
		senderID: senderID,
		priority: priority,
		baseURL:  baseURL,
	}
}

func (p *SMSToProvider) Name() string  { return "smsto" }
func (p *SMSToProvider) Priority() int { return p.priority }

func (p *SMSToProvider) Send(ctx context.Context, to, message, callbackURL string) (SendResult, error) {
	payload := map[string]string{
		"message":   message,
		"to":        to,
		"sender_id": p.senderID,
	}
	if callbackURL != "" {
		payload["callback_url"] = callbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("smsto: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sms/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("smsto: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("smsto: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{}, fmt.Errorf("smsto: read response: %w", err)
	}

	var parsed struct {
		Success   bool   `json:"success"`
		MessageID string `json:"message_id"`
		Message   string `json:"message"`
	}
	if resp.StatusCode >= 300 || json.Unmarshal(respBody, &parsed) != nil || !parsed.Success {
		return SendResult{}, fmt.Errorf("smsto: status %d: %s: %w", resp.StatusCode, string(respBody), ErrSendRejected)
	}

	return SendResult{MessageID: parsed.MessageID}, nil
}

func (p *SMSToProvider) Poll(ctx context.Context, messageID string) (DeliveryStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/message/"+messageID, nil)
	if err != nil {
		return StatusPending, fmt.Errorf("smsto: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return StatusPending, fmt.Errorf("smsto: poll request: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return StatusPending, fmt.Errorf("smsto: parse poll response: %w", err)
	}
	return smstoStatus(parsed.Status), nil
}

// ParseReceipt decodes an SMS.to callback payload.
func (p *SMSToProvider) ParseReceipt(payload []byte) (Receipt, error) {
	var parsed struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Receipt{}, fmt.Errorf("smsto: parse receipt: %w", err)
	}
	if parsed.MessageID == "" {
		return Receipt{}, fmt.Errorf("smsto: receipt missing message_id")
	}
	return Receipt{
		MessageID:     parsed.MessageID,
		Status:        smstoStatus(parsed.Status),
		FailureReason: parsed.Reason,
	}, nil
}

func smstoStatus(s string) DeliveryStatus {
	switch s {
	case "DELIVERED", "delivered":
		return StatusDelivered
	case "SENT", "sent":
		return StatusSent
	case "FAILED", "failed", "ERROR", "REJECTED", "undelivered":
		return StatusFailed
	default:
		return StatusPending
	}
}

var _ Provider = (*SMSToProvider)(nil)
