package broker

import (
	"crypto"
	_ "crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RequestHash returns the unpadded base64url SHA-256 digest of payload.
func RequestHash(payload []byte) (string, error) {
	if !crypto.SHA256.Available() {
		return "", fmt.Errorf("%w: SHA-256 is not linked into this binary", ErrHashing)
	}
	h := crypto.SHA256.New()
	h.Write(payload)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
