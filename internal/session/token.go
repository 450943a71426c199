package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims for a session token. The token expiry equals the
// session's fixed ExpiresAt, so a token can never outlive its window.
type Claims struct {
	ActorID string `json:"actor_id"`
	jwt.RegisteredClaims
}

// TokenService mints and validates HS256 session tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
}

func NewTokenService(signingKey []byte, issuer string) *TokenService {
	return &TokenService{signingKey: signingKey, issuer: issuer}
}

// Generate issues a token bound to the session's fixed window. Touching the
// session never refreshes the token.
func (s *TokenService) Generate(st Status) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID: st.ActorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   st.ID.String(),
			ExpiresAt: jwt.NewNumericDate(st.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(st.StartTime),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature and expiry, returning the session id.
// Callers must still consult the Manager: a torn-down session is invalid even
// with a well-formed token.
func (s *TokenService) Validate(tokenString string) (uuid.UUID, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, nil, fmt.Errorf("invalid session token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse session id claim: %w", err)
	}
	return id, claims, nil
}
