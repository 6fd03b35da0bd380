package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthService issues and verifies the two token kinds: short-lived access
// tokens carrying identity and role, and longer-lived refresh tokens that
// are only good for obtaining a new pair.
type AuthService struct {
	secretKey []byte
	logger    zerolog.Logger
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

func NewAuthService(secretKey string, logger zerolog.Logger) *AuthService {
	return &AuthService{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *AuthService) GenerateToken(userID int64, email, role string) (string, error) {
	return s.sign(&Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Kind:   tokenKindAccess,
	}, accessTokenTTL)
}

// GenerateRefreshToken issues a refresh token. It carries no role: the role
// is re-read from the user record when the token is redeemed.
func (s *AuthService) GenerateRefreshToken(userID int64) (string, error) {
	return s.sign(&Claims{
		UserID: userID,
		Kind:   tokenKindRefresh,
	}, refreshTokenTTL)
}

// ValidateToken verifies an access token. Refresh tokens are rejected here;
// they only pass ValidateRefreshToken.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	return s.parse(tokenString, tokenKindAccess)
}

// ValidateRefreshToken verifies a refresh token for the token exchange.
func (s *AuthService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.parse(tokenString, tokenKindRefresh)
}

func (s *AuthService) sign(claims *Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", claims.Kind).Msg("Error signing token")
		return "", err
	}
	return tokenString, nil
}

func (s *AuthService) parse(tokenString, wantKind string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Kind != wantKind {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
