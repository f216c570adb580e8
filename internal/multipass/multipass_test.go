package multipass_test

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/domain/domaintest"
	"github.com/kossrlive/isignin/internal/multipass"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testShop   = "shop.example.com"
)

var mintTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newMinter(t *testing.T) (*multipass.Minter, *domaintest.FakeClock) {
	t.Helper()
	clock := domaintest.NewFakeClock(mintTime)
	minter, err := multipass.NewMinter(multipass.MinterConfig{
		Secret:     testSecret,
		ShopDomain: testShop,
		Clock:      clock,
	})
	require.NoError(t, err)
	return minter, clock
}

// decodeToken is the reference Multipass verifier: it base64url-decodes,
// checks the HMAC over IV||CT, decrypts, and unpads.
func decodeToken(t *testing.T, secret, token string) map[string]any {
	t.Helper()

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	require.Greater(t, len(raw), aes.BlockSize+sha256.Size)

	sealed := raw[:len(raw)-sha256.Size]
	sig := raw[len(raw)-sha256.Size:]

	keyMaterial := sha256.Sum256([]byte(secret))
	mac := hmac.New(sha256.New, keyMaterial[16:32])
	mac.Write(sealed)
	require.True(t, hmac.Equal(mac.Sum(nil), sig), "signature must verify")

	block, err := aes.NewCipher(keyMaterial[:16])
	require.NoError(t, err)

	iv, ct := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	require.NotEmpty(t, ct)
	require.Zero(t, len(ct)%aes.BlockSize)

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	padding := int(plain[len(plain)-1])
	require.GreaterOrEqual(t, padding, 1)
	require.LessOrEqual(t, padding, aes.BlockSize)
	plain = plain[:len(plain)-padding]

	var payload map[string]any
	require.NoError(t, json.Unmarshal(plain, &payload))
	return payload
}

func TestMintRoundTrip(t *testing.T) {
	minter, _ := newMinter(t)

	info := multipass.CustomerInfo{
		Email:      "customer@example.com",
		CreatedAt:  mintTime,
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Identifier: "C1",
		ReturnTo:   "https://shop.example.com/cart",
	}

	result, err := minter.Mint(info, multipass.URLOptions{})
	require.NoError(t, err)

	payload := decodeToken(t, testSecret, result.Token)
	assert.Equal(t, "customer@example.com", payload["email"])
	assert.Equal(t, "2025-01-01T12:00:00Z", payload["created_at"])
	assert.Equal(t, "Ada", payload["first_name"])
	assert.Equal(t, "Lovelace", payload["last_name"])
	assert.Equal(t, "C1", payload["identifier"])
	assert.Equal(t, "https://shop.example.com/cart", payload["return_to"])
}

func TestMintOmitsUnsetOptionalFields(t *testing.T) {
	minter, _ := newMinter(t)

	result, err := minter.Mint(multipass.CustomerInfo{
		Email:     "customer@example.com",
		CreatedAt: mintTime,
	}, multipass.URLOptions{})
	require.NoError(t, err)

	payload := decodeToken(t, testSecret, result.Token)
	assert.Len(t, payload, 2)
	assert.Contains(t, payload, "email")
	assert.Contains(t, payload, "created_at")
}

func TestMintURL(t *testing.T) {
	minter, _ := newMinter(t)
	info := multipass.CustomerInfo{Email: "c@example.com", CreatedAt: mintTime, Identifier: "C1"}

	t.Run("base URL shape", func(t *testing.T) {
		result, err := minter.Mint(info, multipass.URLOptions{})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(result.URL, "https://shop.example.com/account/login/multipass/"), result.URL)
		assert.NotContains(t, result.URL, "?")
	})

	t.Run("return_to and cart parameters", func(t *testing.T) {
		result, err := minter.Mint(info, multipass.URLOptions{
			ReturnTo:  "https://shop.example.com/checkout",
			CartToken: "cart-42",
		})
		require.NoError(t, err)

		parsed, err := url.Parse(result.URL)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com/checkout", parsed.Query().Get("return_to"))
		assert.Equal(t, "cart-42", parsed.Query().Get("cart"))
	})

	t.Run("tokens are unique per mint", func(t *testing.T) {
		a, err := minter.Mint(info, multipass.URLOptions{})
		require.NoError(t, err)
		b, err := minter.Mint(info, multipass.URLOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token, "random IV must differ")
	})

	t.Run("token is URL-safe without padding", func(t *testing.T) {
		result, err := minter.Mint(info, multipass.URLOptions{})
		require.NoError(t, err)
		assert.NotContains(t, result.Token, "=")
		assert.NotContains(t, result.Token, "+")
		assert.NotContains(t, result.Token, "/")
	})
}

func TestValidateInput(t *testing.T) {
	minter, clock := newMinter(t)

	valid := multipass.CustomerInfo{Email: "c@example.com", CreatedAt: mintTime}
	assert.NoError(t, minter.ValidateInput(valid))

	t.Run("missing email", func(t *testing.T) {
		err := minter.ValidateInput(multipass.CustomerInfo{CreatedAt: mintTime})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("missing created_at", func(t *testing.T) {
		err := minter.ValidateInput(multipass.CustomerInfo{Email: "c@example.com"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("stale created_at", func(t *testing.T) {
		clock.Set(mintTime.Add(6 * time.Minute))
		err := minter.ValidateInput(valid)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		clock.Set(mintTime)
	})

	t.Run("future created_at inside the window is fine", func(t *testing.T) {
		info := valid
		info.CreatedAt = mintTime.Add(2 * time.Minute)
		assert.NoError(t, minter.ValidateInput(info))
	})

	t.Run("relative return_to rejected", func(t *testing.T) {
		info := valid
		info.ReturnTo = "/cart"
		err := minter.ValidateInput(info)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestNewMinterRequiresConfig(t *testing.T) {
	_, err := multipass.NewMinter(multipass.MinterConfig{ShopDomain: testShop, Clock: domain.RealClock{}})
	assert.ErrorIs(t, err, domain.ErrConfigRequired)

	_, err = multipass.NewMinter(multipass.MinterConfig{Secret: testSecret, Clock: domain.RealClock{}})
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
}
