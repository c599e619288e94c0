package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Claims struct {
	UserID    uuid.UUID `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates the signed mobile tokens. Access tokens are
// short-lived; refresh tokens carry a jti matched against a persisted record.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *TokenIssuer) IssueAccess(userID uuid.UUID, deviceID string) (string, error) {
	claims := Claims{
		UserID:    userID,
		DeviceID:  deviceID,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// IssueRefresh mints a refresh token and returns its jti and absolute expiry
// so the caller can persist the matching family record.
func (i *TokenIssuer) IssueRefresh(userID uuid.UUID, deviceID string) (signed string, tokenID string, expiresAt time.Time, err error) {
	tokenID = uuid.New().String()
	expiresAt = time.Now().Add(i.refreshTTL)
	claims := Claims{
		UserID:    userID,
		DeviceID:  deviceID,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err = token.SignedString(i.secret)
	return signed, tokenID, expiresAt, err
}

// Parse verifies signature, issuer, audience, expiry and the expected token
// type.
func (i *TokenIssuer) Parse(tokenStr, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithAudience(i.audience))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	return claims, nil
}
