// Package invite issues and verifies signed invite-intent tokens. An invite
// carries (house_id, role) in the join link's query string and has to survive
// a registration round trip, so it is a stateless HMAC-signed JWT rather than
// a database row.
package invite

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/questboard/internal/model"
)

var ErrInvalidToken = errors.New("invalid or expired invite token")

// Claims is the payload of an invite token.
type Claims struct {
	HouseID int64      `json:"house_id"`
	Role    model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies invite tokens.
type Manager struct {
	secret   []byte
	lifetime time.Duration
	baseURL  string
}

// NewManager creates an invite manager. secret should be a strong random
// string; lifetime bounds how long a link stays usable.
func NewManager(secret, baseURL string, lifetime time.Duration) *Manager {
	return &Manager{
		secret:   []byte(secret),
		lifetime: lifetime,
		baseURL:  baseURL,
	}
}

// Generate returns a signed token inviting someone into the house with the
// given role.
func (m *Manager) Generate(houseID int64, role model.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("invalid invite role %q", role)
	}

	now := time.Now()
	claims := &Claims{
		HouseID: houseID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign invite token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JoinURL builds the link handed to the invitee (and rendered as a QR code
// by the client).
func (m *Manager) JoinURL(token string) string {
	return fmt.Sprintf("%s/join?invite=%s", m.baseURL, url.QueryEscape(token))
}
