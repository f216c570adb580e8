// Package port exposes the JSON HTTP surface: the authentication
// endpoints, the delivery-receipt webhook, the merchant settings API, and
// the admin inspection routes.
package port

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kossrlive/isignin/internal/app"
	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/errmap"
	"github.com/kossrlive/isignin/internal/observability"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/ratelimit"
	"github.com/kossrlive/isignin/internal/settings"
	"github.com/kossrlive/isignin/internal/shopify"
	"github.com/kossrlive/isignin/internal/sms"
)

const stateCookie = "oauth_state"

// authService is the narrow, consumer-defined slice of the orchestrator
// the handlers require. *app.Service satisfies it.
type authService interface {
	RequestCode(ctx context.Context, phone string) (*app.RequestCodeResult, error)
	VerifyCode(ctx context.Context, phone, candidate, returnTo string) (*app.AuthResult, error)
	EmailLogin(ctx context.Context, email, password, returnTo string) (*app.AuthResult, error)
	OAuthBegin(ctx context.Context, provider string) (authURL, state string, err error)
	OAuthCallback(ctx context.Context, provider, code, redirectURI, returnTo string) (*app.AuthResult, error)
	RestoreSession(ctx context.Context, email string, snapshot app.SessionSnapshot) (*app.AuthResult, error)
	SendOrderConfirmation(ctx context.Context, params app.OrderConfirmationParams) error
	VerifyOrderConfirmation(ctx context.Context, orderID, candidate string) (bool, error)
}

// deliveryTracker is the slice of the SMS router the webhook needs.
type deliveryTracker interface {
	Delivery(ctx context.Context, messageID string) (sms.DeliveryRecord, error)
	UpdateDelivery(ctx context.Context, messageID string, status sms.DeliveryStatus, failureReason string) error
}

// deadLetterLog is the queue slice backing the admin inspection route.
type deadLetterLog interface {
	DeadLetters(ctx context.Context, limit int) ([]queue.DeadJob, error)
}

// HandlerConfig holds the dependencies for the HTTP layer.
type HandlerConfig struct {
	Service       authService
	Tracker       deliveryTracker
	Providers     map[string]sms.Provider // DLR payload parsers by provider name
	Settings      *settings.Provider
	DeadLetters   deadLetterLog
	Limiter       *ratelimit.Limiter
	AdminSecret   string // signs admin and webhook requests; empty disables verification
	WebhookSecret string
	Logger        *slog.Logger
	Alert         AlertHook
}

// Handler serves the HTTP surface.
type Handler struct {
	svc           authService
	tracker       deliveryTracker
	providers     map[string]sms.Provider
	settings      *settings.Provider
	deadLetters   deadLetterLog
	limiter       *ratelimit.Limiter
	adminSecret   string
	webhookSecret string
	logger        *slog.Logger
	alert         AlertHook
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		svc:           cfg.Service,
		tracker:       cfg.Tracker,
		providers:     cfg.Providers,
		settings:      cfg.Settings,
		deadLetters:   cfg.DeadLetters,
		limiter:       cfg.Limiter,
		adminSecret:   cfg.AdminSecret,
		webhookSecret: cfg.WebhookSecret,
		logger:        cfg.Logger,
		alert:         cfg.Alert,
	}
}

// Routes assembles the chi router with the shared middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer(h.logger, h.alert))
	if h.limiter != nil {
		r.Use(RateLimit(h.limiter))
	}

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/sms/send", h.smsSend)
		r.Post("/auth/sms/verify", h.smsVerify)
		r.Get("/auth/sms/delivery/{messageID}", h.smsDelivery)
		r.Post("/auth/email/login", h.emailLogin)
		r.Get("/auth/oauth/{provider}", h.oauthBegin)
		r.Get("/auth/oauth/{provider}/callback", h.oauthCallback)
		r.Post("/auth/session/restore", h.sessionRestore)

		r.Post("/webhooks/sms-dlr", h.smsDLR)

		r.Post("/orders/{orderID}/confirmation/send", h.orderConfirmationSend)
		r.Post("/orders/{orderID}/confirmation/verify", h.orderConfirmationVerify)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdminSignature)
			r.Get("/settings", h.getSettings)
			r.Put("/settings", h.putSettings)
			r.Get("/dead-letters", h.getDeadLetters)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func (h *Handler) smsSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.RequestCode(r.Context(), req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"cooldownSeconds": result.CooldownSeconds,
	})
}

func (h *Handler) smsVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Code     string `json:"code"`
		ReturnTo string `json:"returnTo"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.VerifyCode(r.Context(), req.Phone, req.Code, req.ReturnTo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"multipassUrl": result.MultipassURL,
	})
}

func (h *Handler) smsDelivery(w http.ResponseWriter, r *http.Request) {
	record, err := h.tracker.Delivery(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"status":   record.Status,
		"provider": record.Provider,
		"sentAt":   record.SentAt.Format(time.RFC3339),
	})
}

func (h *Handler) emailLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		ReturnTo string `json:"returnTo"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.EmailLogin(r.Context(), req.Email, req.Password, req.ReturnTo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"multipassUrl": result.MultipassURL,
	})
}

func (h *Handler) oauthBegin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.svc.OAuthBegin(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The state rides a short-lived cookie; the callback matches it.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth/oauth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != state {
		h.fail(w, r, domain.ErrSignatureInvalid)
		return
	}

	result, err := h.svc.OAuthCallback(
		r.Context(),
		chi.URLParam(r, "provider"),
		r.URL.Query().Get("code"),
		"", // provider config carries the registered redirect URI
		r.URL.Query().Get("return_to"),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.Redirect(w, r, result.MultipassURL, http.StatusFound)
}

func (h *Handler) sessionRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string              `json:"email"`
		SessionSnapshot app.SessionSnapshot `json:"sessionSnapshot"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.RestoreSession(r.Context(), req.Email, req.SessionSnapshot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"multipassUrl": result.MultipassURL,
	})
}

// smsDLR ingests a provider delivery receipt. The provider query parameter
// selects the parser. When a webhook secret is configured the body
// signature is enforced; unauthenticated receipts update tracking state
// only, which is the limit of what this endpoint does anyway.
func (h *Handler) smsDLR(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	provider, ok := h.providers[providerName]
	if !ok {
		h.fail(w, r, domain.ErrInvalidInput)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		h.fail(w, r, domain.ErrInvalidInput)
		return
	}

	if h.webhookSecret != "" {
		if err := shopify.VerifyBody(h.webhookSecret, body, r.Header.Get(shopify.BodyHMACHeader)); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	receipt, err := provider.ParseReceipt(body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "unparseable delivery receipt",
			slog.String("provider", providerName), slog.Any("error", err))
		h.fail(w, r, domain.ErrInvalidInput)
		return
	}

	if err := h.tracker.UpdateDelivery(r.Context(), receipt.MessageID, receipt.Status, receipt.FailureReason); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) orderConfirmationSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Template string `json:"template"`
		Order    struct {
			Number string `json:"number"`
			Total  string `json:"total"`
		} `json:"order"`
		Customer struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Email     string `json:"email"`
		} `json:"customer"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	err := h.svc.SendOrderConfirmation(r.Context(), app.OrderConfirmationParams{
		OrderID:  orderID,
		Phone:    req.Phone,
		Template: req.Template,
		Order:    otp.Order{ID: orderID, Number: req.Order.Number, Total: req.Order.Total},
		Customer: otp.TemplateCustomer{
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Email:     req.Customer.Email,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) orderConfirmationVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	verified, err := h.svc.VerifyOrderConfirmation(r.Context(), chi.URLParam(r, "orderID"), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "verified": verified})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": current})
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.settings.Put(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": req})
}

func (h *Handler) getDeadLetters(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.deadLetters.DeadLetters(r.Context(), 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deadLetters": jobs})
}

// requireAdminSignature verifies the query-string HMAC on the admin
// surface the way the platform signs app-proxy requests. No configured
// secret disables the check (local development).
func (h *Handler) requireAdminSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminSecret != "" {
			params := make(map[string]string, len(r.URL.Query()))
			for k, v := range r.URL.Query() {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
			if err := shopify.VerifyQuery(h.adminSecret, params); err != nil {
				h.fail(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// fail renders err through the error map, logging internal errors with the
// request id and invoking the alert hook on the catch-all path.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := errmap.ToHTTPError(err)

	if httpErr.StatusCode >= http.StatusInternalServerError {
		reqID := observability.RequestIDFromContext(r.Context())
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", reqID),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		if h.alert != nil && httpErr.Code == "INTERNAL" {
			h.alert(r.Context(), reqID, err)
		}
	}

	if httpErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(httpErr.RetryAfterSeconds))
	}
	writeError(w, httpErr.StatusCode, httpErr.Code, httpErr.Message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
