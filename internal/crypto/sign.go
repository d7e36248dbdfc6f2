package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// NonceBytes is the amount of randomness drawn for each record nonce.
const NonceBytes = 16

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignHMAC returns the HMAC-SHA256 of message under secret as lowercase hex.
func SignHMAC(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes the signature over message and compares it to
// signature in constant time.
func VerifyHMAC(secret, message []byte, signature string) bool {
	expected := SignHMAC(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HMACSigner holds a private copy of a symmetric key. The key never leaves
// the signer; callers can only sign and verify with it.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &HMACSigner{secret: key}, nil
}

func (s *HMACSigner) Sign(message []byte) string {
	return SignHMAC(s.secret, message)
}

func (s *HMACSigner) Verify(message []byte, signature string) bool {
	return VerifyHMAC(s.secret, message, signature)
}

// NewNonce returns NonceBytes of cryptographic randomness, hex encoded.
func NewNonce() (string, error) {
	return NewNonceSize(NonceBytes)
}

// NewNonceSize returns size random bytes, hex encoded. Sizes below 8 bytes
// are rejected.
func NewNonceSize(size int) (string, error) {
	if size < 8 {
		return "", ErrNonceSize
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *HMACSigner) String() string { return "HMACSigner{redacted}" }

func (s *HMACSigner) GoString() string { return s.String() }
