package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidKey = errors.New("invalid api key")

const keyIssuer = "aquaflash"

// Claims are the contents of a device API key
type Claims struct {
	DeviceMAC  string     `json:"mac"`
	DeviceType DeviceType `json:"type"`
	jwt.RegisteredClaims
}

// KeyManager mints and validates device API keys.
// Keys are HS256 JWTs without expiry since they are flashed into firmware.
type KeyManager struct {
	secretKey []byte
	now       func() time.Time
}

// NewKeyManager creates a key manager; an empty secret gets a random one,
// which invalidates every key on restart.
func NewKeyManager(secretKey string) *KeyManager {
	if secretKey == "" {
		secretKey = GenerateSecret()
	}
	return &KeyManager{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// GenerateSecret returns a random 32-byte hex secret
func GenerateSecret() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// Mint creates the API key for d. d.ID must be set.
func (m *KeyManager) Mint(d *Device) (string, error) {
	claims := &Claims{
		DeviceMAC:  d.DeviceMAC,
		DeviceType: d.DeviceType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  d.ID,
			IssuedAt: jwt.NewNumericDate(m.now()),
			Issuer:   keyIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Validate checks the key signature and returns its claims
func (m *KeyManager) Validate(key string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(key, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidKey
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(keyIssuer))
	if err != nil {
		return nil, ErrInvalidKey
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidKey
	}
	return claims, nil
}
