package authn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keys holds the per-purpose keys derived from the configured secret.
type keys struct {
	session []byte
	csrf    []byte
}

func deriveKeys(secret string) (keys, error) {
	session, err := deriveKey(secret, "session token")
	if err != nil {
		return keys{}, err
	}
	csrf, err := deriveKey(secret, "csrf token")
	if err != nil {
		return keys{}, err
	}
	return keys{session: session, csrf: csrf}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("passage "+info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// randomToken returns n random bytes, hex encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hmacHex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// hashVerificationToken is what gets stored for an emailed token.
func hashVerificationToken(token, secret string) string {
	sum := sha256.Sum256([]byte(token + secret))
	return hex.EncodeToString(sum[:])
}
