package entitlement

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TransactionIssuer is the JWT issuer expected on signed transactions.
const TransactionIssuer = "overorunder-billing"

// TransactionClaims is the signed payload the billing boundary attaches to a
// purchase. Revocation and introductory-offer flags ride along so a resync
// can classify entitlements without further round trips.
type TransactionClaims struct {
	ProductID  string `json:"product_id"`
	RevokedAt  *int64 `json:"revoked_at,omitempty"`
	IntroOffer bool   `json:"intro_offer,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates signed transactions against the billing public key.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier builds a verifier from a base64-encoded Ed25519 public key.
// An empty key yields a verifier that rejects everything; the store fails
// closed rather than trusting unsigned transactions.
func NewVerifier(encodedKey string) (*Verifier, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return &Verifier{}, nil
	}
	decoded, err := decodeBase64Flexible(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode billing public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("billing public key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return &Verifier{publicKey: ed25519.PublicKey(decoded)}, nil
}

// NewVerifierFromKey wraps a raw Ed25519 public key.
func NewVerifierFromKey(key ed25519.PublicKey) *Verifier {
	return &Verifier{publicKey: key}
}

// Verify checks the transaction signature and returns the trusted record.
// Any failure maps to ErrVerification so callers treat the payload as noise.
func (v *Verifier) Verify(signed string) (*Transaction, error) {
	signed = strings.TrimSpace(signed)
	if signed == "" || len(v.publicKey) != ed25519.PublicKeySize {
		return nil, ErrVerification
	}

	claims := &TransactionClaims{}
	parsed, err := jwt.ParseWithClaims(
		signed,
		claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
			}
			return v.publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(TransactionIssuer),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	if strings.TrimSpace(claims.ProductID) == "" {
		return nil, fmt.Errorf("%w: missing product id", ErrVerification)
	}

	tx := &Transaction{
		ID:                claims.ID,
		ProductID:         claims.ProductID,
		IntroductoryOffer: claims.IntroOffer,
	}
	if claims.IssuedAt != nil {
		tx.PurchasedAt = claims.IssuedAt.Time
	}
	if claims.RevokedAt != nil {
		revoked := time.Unix(*claims.RevokedAt, 0)
		tx.RevokedAt = &revoked
	}
	return tx, nil
}

// SignTransaction signs transaction claims with the billing private key.
// Used by the billing simulator and by the hosted signer.
func SignTransaction(privateKey ed25519.PrivateKey, claims TransactionClaims) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("billing private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if strings.TrimSpace(claims.ProductID) == "" {
		return "", fmt.Errorf("product id is required")
	}
	if strings.TrimSpace(claims.Issuer) == "" {
		claims.Issuer = TransactionIssuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now().UTC())
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func decodeBase64Flexible(encoded string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.RawStdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(encoded)
}
