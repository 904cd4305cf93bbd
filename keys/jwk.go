package keys

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JWK is one entry of the published verification key set. Field layout is a
// wire contract (RFC 7517/7518) consumed by external verifiers; only public
// parameters are ever present.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the JSON Web Key Set document returned by PublicJWKS.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// buildJWK converts a key record's public material into its JWK form.
func buildJWK(rec Record) (JWK, error) {
	pub, err := ParsePublicKey(rec.Algorithm, rec.PublicMaterial)
	if err != nil {
		return JWK{}, fmt.Errorf("key %s: %w", rec.KeyID, err)
	}

	jwk := JWK{
		Use: "sig",
		Alg: string(rec.Algorithm),
		Kid: rec.KeyID,
	}

	switch key := pub.(type) {
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = b64url(key.N.Bytes())
		jwk.E = b64url(big.NewInt(int64(key.E)).Bytes())
	case *ecdsa.PublicKey:
		byteLen := (key.Curve.Params().BitSize + 7) / 8
		jwk.Kty = "EC"
		jwk.Crv = "P-256"
		jwk.X = b64url(leftPad(key.X.Bytes(), byteLen))
		jwk.Y = b64url(leftPad(key.Y.Bytes(), byteLen))
	default:
		return JWK{}, fmt.Errorf("key %s: %w", rec.KeyID, ErrUnsupportedAlgorithm)
	}

	return jwk, nil
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// leftPad zero-extends curve coordinates to the fixed field width required
// by RFC 7518 §6.2.1.2 so short coordinates still round-trip byte-exact.
func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}
