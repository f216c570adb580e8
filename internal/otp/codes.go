package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateCode generates a cryptographically random code of length digits.
// Uses crypto/rand with rejection sampling (via big.Int) to avoid modulo
// bias. The code is zero-padded (e.g., "000123").
func GenerateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
