// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify an anonymous player. Wallet may be empty until the player connects one.
type Claims struct {
	PlayerID    uuid.UUID
	DisplayName string
	Wallet      string
}

// Issuer signs and verifies player tokens with an ed25519 key pair.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expire     time.Duration // 0 means tokens never expire
}

// ParseExpire reads TOKEN_EXPIRE_TIME. "", "0" and "never" disable expiry.
func ParseExpire(s string) (time.Duration, error) {
	if s == "" || s == "0" || s == "never" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// NewIssuer generates a fresh key pair. Tokens do not survive a restart.
func NewIssuer(expire string) (*Issuer, error) {
	d, err := ParseExpire(expire)
	if err != nil {
		return nil, err
	}
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{privateKey: privateKey, publicKey: publicKey, expire: d}, nil
}

// NewIssuerFromFiles reads a raw ed25519 key pair from disk.
func NewIssuerFromFiles(privatePath, publicPath, expire string) (*Issuer, error) {
	d, err := ParseExpire(expire)
	if err != nil {
		return nil, err
	}
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 key files have the wrong size")
	}
	return &Issuer{privateKey: privateKeyData, publicKey: publicKeyData, expire: d}, nil
}

// Create signs a token with sub = player id plus name and wallet claims.
func (i *Issuer) Create(c Claims) (string, error) {
	claims := jwt.MapClaims{
		"sub":  c.PlayerID.String(),
		"name": c.DisplayName,
		"iat":  time.Now().Unix(),
	}
	if c.Wallet != "" {
		claims["wallet"] = c.Wallet
	}
	if i.expire > 0 {
		claims["exp"] = time.Now().Add(i.expire).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.privateKey)
}

// Authenticate verifies a token and returns its claims.
func (i *Issuer) Authenticate(tokenString string) (Claims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return Claims{}, ErrInvalidToken
	}

	mc, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: invalid jwt claims", ErrInvalidToken)
	}
	sub, ok := mc["sub"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: malformed sub", ErrInvalidToken)
	}
	c := Claims{PlayerID: id}
	c.DisplayName, _ = mc["name"].(string)
	c.Wallet, _ = mc["wallet"].(string)
	return c, nil
}
