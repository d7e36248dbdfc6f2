package crypto

import "errors"

var (
	ErrFloatNotAllowed = errors.New("float values are not allowed")
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrKeyCollision    = errors.New("normalized map key collision")
	ErrEmptySecret     = errors.New("signing secret is empty")
	ErrNonceSize       = errors.New("nonce must be at least 8 bytes")
)
