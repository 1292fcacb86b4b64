package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/ahmkhn/klaviyo-nexus/errors"
)

// GeneratePKCEPair returns a fresh (verifier, challenge) pair using the S256
// challenge method.
func GeneratePKCEPair() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errors.Wrapf(err, "generating PKCE verifier")
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// BasicAuthHeader builds the Authorization header value for the token
// endpoint's client authentication.
func BasicAuthHeader(clientID, clientSecret string) string {
	raw := clientID + ":" + clientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}
