package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	resetTokenSize = 32
	minOTPDigits   = 6
	maxOTPDigits   = 10
)

// NewOTP returns a fixed-width numeric code. Every digit is drawn
// independently from crypto/rand, so leading zeros are kept.
func NewOTP(digits int) (string, error) {
	if digits < minOTPDigits || digits > maxOTPDigits {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewResetToken returns 32 random bytes encoded as 64 lowercase hex chars.
func NewResetToken() (string, error) {
	var raw [resetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashSecret digests length-prefixed parts so ("ab","c") and ("a","bc")
// never collide.
func HashSecret(parts ...string) [32]byte {
	h := sha256.New()
	var n [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashSecretHex is HashSecret rendered for use inside store keys.
func HashSecretHex(parts ...string) string {
	sum := HashSecret(parts...)
	return hex.EncodeToString(sum[:])
}
