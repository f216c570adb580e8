// Package multipass constructs Shopify Multipass single-sign-on tokens.
// The wire format is fixed by the platform: AES-128-CBC over canonical
// JSON, HMAC-SHA256 over IV||ciphertext, raw base64url of the whole.
package multipass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
)

// CustomerInfo is the payload encoded into a token. Email and CreatedAt
// are required; the rest is omitted from the JSON when unset. Field order
// matches the canonical encoding.
type CustomerInfo struct {
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	ReturnTo   string    `json:"return_to,omitempty"`
}

// URLOptions are the optional query parameters appended to the login URL.
type URLOptions struct {
	ReturnTo  string
	CartToken string
}

// MintResult holds a minted token and its login URL.
type MintResult struct {
	Token string
	URL   string
}

// Minter creates Multipass tokens for one shop.
type Minter struct {
	encKey     []byte
	macKey     []byte
	shopDomain string
	clock      domain.Clock
}

// MinterConfig holds configuration for creating a Minter.
type MinterConfig struct {
	Secret     string // the shop's Multipass secret
	ShopDomain string // e.g. "shop.example.com"
	Clock      domain.Clock
}

// NewMinter derives the encryption and signing keys from the shop secret:
// the first 16 bytes of SHA-256(secret) encrypt, the next 16 sign.
func NewMinter(cfg MinterConfig) (*Minter, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("multipass secret: %w", domain.ErrConfigRequired)
	}
	if cfg.ShopDomain == "" {
		return nil, fmt.Errorf("shop domain: %w", domain.ErrConfigRequired)
	}
	keyMaterial := sha256.Sum256([]byte(cfg.Secret))
	return &Minter{
		encKey:     keyMaterial[:16],
		macKey:     keyMaterial[16:32],
		shopDomain: cfg.ShopDomain,
		clock:      cfg.Clock,
	}, nil
}

// ValidateInput checks the payload before minting: email present,
// created_at inside the freshness window, return_to an absolute URL.
func (m *Minter) ValidateInput(info CustomerInfo) error {
	if info.Email == "" {
		return fmt.Errorf("email is required: %w", domain.ErrInvalidInput)
	}
	if info.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required: %w", domain.ErrInvalidInput)
	}
	now := m.clock.Now()
	drift := now.Sub(info.CreatedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > domain.MultipassFreshnessWindow {
		return fmt.Errorf("created_at outside freshness window: %w", domain.ErrInvalidInput)
	}
	if info.ReturnTo != "" {
		parsed, err := url.Parse(info.ReturnTo)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("return_to must be an absolute URL: %w", domain.ErrInvalidInput)
		}
	}
	return nil
}

// Mint encodes, encrypts, and signs info into a token and assembles the
// login URL.
func (m *Minter) Mint(info CustomerInfo, opts URLOptions) (MintResult, error) {
	if err := m.ValidateInput(info); err != nil {
		return MintResult{}, err
	}

	payload, err := canonicalJSON(info)
	if err != nil {
		return MintResult{}, fmt.Errorf("encode payload: %w", err)
	}

	token, err := m.seal(payload)
	if err != nil {
		return MintResult{}, err
	}

	return MintResult{Token: token, URL: m.loginURL(token, opts)}, nil
}

// canonicalJSON produces the platform's expected encoding: created_at as
// ISO-8601 UTC, optional fields omitted.
func canonicalJSON(info CustomerInfo) ([]byte, error) {
	encoded := struct {
		Email      string `json:"email"`
		CreatedAt  string `json:"created_at"`
		FirstName  string `json:"first_name,omitempty"`
		LastName   string `json:"last_name,omitempty"`
		Identifier string `json:"identifier,omitempty"`
		ReturnTo   string `json:"return_to,omitempty"`
	}{
		Email:      info.Email,
		CreatedAt:  info.CreatedAt.UTC().Format(time.RFC3339),
		FirstName:  info.FirstName,
		LastName:   info.LastName,
		Identifier: info.Identifier,
		ReturnTo:   info.ReturnTo,
	}
	return json.Marshal(encoded)
}

// seal encrypts the payload and appends the signature:
// base64url(IV || CT || HMAC-SHA256(macKey, IV || CT)), unpadded.
func (m *Minter) seal(payload []byte) (string, error) {
	block, err := aes.NewCipher(m.encKey)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	sealed := make([]byte, 0, len(iv)+len(ciphertext)+sha256.Size)
	sealed = append(sealed, iv...)
	sealed = append(sealed, ciphertext...)

	mac := hmac.New(sha256.New, m.macKey)
	mac.Write(sealed)
	sealed = mac.Sum(sealed)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// loginURL composes the platform login URL with optional return_to and
// cart query parameters.
func (m *Minter) loginURL(token string, opts URLOptions) string {
	u := url.URL{
		Scheme: "https",
		Host:   m.shopDomain,
		Path:   "/account/login/multipass/" + token,
	}
	q := url.Values{}
	if opts.ReturnTo != "" {
		q.Set("return_to", opts.ReturnTo)
	}
	if opts.CartToken != "" {
		q.Set("cart", opts.CartToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}
