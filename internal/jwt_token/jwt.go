package jwttoken

import (
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// DefaultIssuer is the issuer stamped on ingest tokens.
const DefaultIssuer = "neurotravel-telemetry"

// keyInfo binds derived keys to ingest tokens so the shared secret can serve
// other purposes without key reuse.
const keyInfo = "neurotravel ingest token v1"

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the claims carried by a telemetry ingest token.
type Claims struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and validates HS256 ingest tokens shared between the
// telemetry client and the collector.
type JWTService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &JWTService{
		signingKey: deriveKey(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// GenerateIngestToken issues a short-lived token for one batch upload.
func (s *JWTService) GenerateIngestToken(sessionID, stream string, expiresIn time.Duration) (string, error) {
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: sessionID,
		Stream:    stream,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// deriveKey expands the configured secret into a 256-bit HMAC key with
// HKDF-SHA256.
func deriveKey(secret string) []byte {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		panic("jwttoken: hkdf: " + err.Error())
	}
	return key
}
