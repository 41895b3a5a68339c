package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Device roles carried in tokens.
const (
	RoleKiosk   = "kiosk"
	RoleConsole = "console"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// ValidRole reports whether role can be issued to a device.
func ValidRole(role string) bool {
	return role == RoleKiosk || role == RoleConsole
}

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs device tokens with HS256.
type Issuer struct {
	name       string
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an issuer.
func NewIssuer(name, key string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{name: name, key: []byte(key), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (i *Issuer) sign(subject, role, typ string, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(i.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Issue issues signed access and refresh tokens for a device.
func (i *Issuer) Issue(deviceID, role string) (TokenPair, error) {
	now := i.now()
	pair := TokenPair{AccessExp: now.Add(i.accessTTL), RefreshExp: now.Add(i.refreshTTL)}

	var err error
	if pair.AccessToken, err = i.sign(deviceID, role, typeAccess, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = i.sign(deviceID, role, typeRefresh, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// ParseAccess validates an access token.
func (i *Issuer) ParseAccess(tokenStr string) (Claims, error) {
	return i.parse(tokenStr, typeAccess)
}

// ParseRefresh validates a refresh token.
func (i *Issuer) ParseRefresh(tokenStr string) (Claims, error) {
	return i.parse(tokenStr, typeRefresh)
}

func (i *Issuer) parse(tokenStr, typ string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.key, nil
	}, jwt.WithIssuer(i.name), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Type != typ {
		return Claims{}, errors.New("wrong token type")
	}
	return *claims, nil
}
