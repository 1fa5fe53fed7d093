package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// timestampLayout is the ISO 8601 shape the trade API expects in the
// KALSHI-ACCESS-TIMESTAMP header and inside the signed message.
const timestampLayout = "2006-01-02T15:04:05Z"

// signer produces RSA-PSS request signatures for the trade API. The signed
// message is timestamp + method + path + body; the path excludes query
// parameters.
type signer struct {
	apiKeyID string
	key      *rsa.PrivateKey
}

func newSigner(apiKeyID, privateKeyPEM string) (*signer, error) {
	if apiKeyID == "" || privateKeyPEM == "" {
		return nil, errors.New("kalshi api key id and private key are required")
	}

	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &signer{apiKeyID: apiKeyID, key: key}, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// headers returns the signed auth headers for one request.
func (s *signer) headers(method, path, body string) (http.Header, error) {
	timestamp := time.Now().UTC().Format(timestampLayout)

	signature, err := s.sign(timestamp, method, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("KALSHI-ACCESS-KEY", s.apiKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", signature)
	h.Set("KALSHI-ACCESS-TIMESTAMP", timestamp)
	return h, nil
}

func (s *signer) sign(timestamp, method, path, body string) (string, error) {
	digest := sha256.Sum256([]byte(timestamp + method + path + body))

	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}
