package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kossrlive/isignin/internal/domain"
)

// BodyHMACHeader is the header Shopify-style webhooks sign their body into.
const BodyHMACHeader = "X-Shopify-Hmac-Sha256"

// VerifyQuery checks the hmac parameter of a signed query-string request.
// The digest covers every parameter except hmac and signature, sorted by
// key and form-encoded as k=v joined by & over the raw delivered values.
func VerifyQuery(secret string, params map[string]string) error {
	provided, ok := params["hmac"]
	if !ok || provided == "" {
		return fmt.Errorf("hmac query parameter: %w", domain.ErrSignatureMissing)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return fmt.Errorf("hmac query parameter: %w", domain.ErrSignatureInvalid)
	}
	return nil
}

// VerifyBody checks the base64 body digest carried in the
// X-Shopify-Hmac-Sha256 header.
func VerifyBody(secret string, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%s header: %w", BodyHMACHeader, domain.ErrSignatureMissing)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%s header: %w", BodyHMACHeader, domain.ErrSignatureInvalid)
	}
	return nil
}
