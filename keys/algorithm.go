package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the closed set of signing algorithms supported per deployment.
// The algorithm is fixed for a deployment, not negotiated per token.
type Algorithm string

const (
	// AlgorithmRS256 is RSA-2048 with SHA-256 (JWA "RS256").
	AlgorithmRS256 Algorithm = "RS256"
	// AlgorithmES256 is ECDSA over P-256 with SHA-256 (JWA "ES256").
	AlgorithmES256 Algorithm = "ES256"
)

// ErrUnsupportedAlgorithm is returned when an algorithm outside the supported
// enumeration is requested or found in persisted state.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// ParseAlgorithm validates a persisted or configured algorithm string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmRS256:
		return AlgorithmRS256, nil
	case AlgorithmES256:
		return AlgorithmES256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// SigningMethod maps the algorithm onto the golang-jwt method used for
// signing and for WithValidMethods enforcement.
func (a Algorithm) SigningMethod() (jwt.SigningMethod, error) {
	switch a {
	case AlgorithmRS256:
		return jwt.SigningMethodRS256, nil
	case AlgorithmES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

const rsaKeyBits = 2048

// GenerateKeyPair creates a fresh key pair for the algorithm and returns the
// key ID plus PEM-encoded private (PKCS#8) and public (PKIX) material.
// The key ID layout is "{algorithm}_{unix}_{random}" and is the only
// deterministic part of the output.
func GenerateKeyPair(alg Algorithm) (keyID string, privatePEM, publicPEM []byte, err error) {
	var priv crypto.Signer

	switch alg {
	case AlgorithmRS256:
		priv, err = rsa.GenerateKey(rand.Reader, rsaKeyBits)
	case AlgorithmES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return "", nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
	if err != nil {
		return "", nil, nil, fmt.Errorf("generate %s key pair: %w", alg, err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		return "", nil, nil, fmt.Errorf("encode public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	keyID, err = newKeyID(alg)
	if err != nil {
		return "", nil, nil, err
	}
	return keyID, privatePEM, publicPEM, nil
}

func newKeyID(alg Algorithm) (string, error) {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("key id entropy: %w", err)
	}
	return fmt.Sprintf("%s_%d_%s", alg, time.Now().Unix(), hex.EncodeToString(suffix[:])), nil
}

// ParsePrivateKey decodes PKCS#8 PEM private material and checks that the key
// type matches the algorithm. Material that parses but belongs to a different
// algorithm is rejected to keep the per-deployment algorithm rule enforceable.
func ParsePrivateKey(alg Algorithm, material []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(material)
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	switch alg {
	case AlgorithmRS256:
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is not RSA", ErrUnsupportedAlgorithm)
		}
		return key, nil
	case AlgorithmES256:
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok || key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: private key is not ECDSA P-256", ErrUnsupportedAlgorithm)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
}

// ParsePublicKey decodes PKIX PEM public material with the same algorithm
// type check as [ParsePrivateKey].
func ParsePublicKey(alg Algorithm, material []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(material)
	if block == nil {
		return nil, errors.New("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	switch alg {
	case AlgorithmRS256:
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: public key is not RSA", ErrUnsupportedAlgorithm)
		}
		return key, nil
	case AlgorithmES256:
		key, ok := parsed.(*ecdsa.PublicKey)
		if !ok || key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: public key is not ECDSA P-256", ErrUnsupportedAlgorithm)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
}
