package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"paneldeck.org/internal/ids"
	"paneldeck.org/internal/obs"
)

// clockSkewLeeway is the only skew tolerated on expiry checks. Anything
// larger points at broken clocks and should fail loudly rather than be
// absorbed.
const clockSkewLeeway = 5 * time.Second

const tokenTypeAccess = "access"

type accessClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issue mints a fresh access/refresh pair for the user and starts a new
// refresh token family.
func (s *Service) Issue(ctx context.Context, user *User) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	return s.mintPair(ctx, user.ID, "")
}

// ValidateAccess verifies an access token's signature and expiry and returns
// the subject user id. Pure signature work, no store I/O.
func (s *Service) ValidateAccess(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithIssuer(s.issuer),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", ErrInvalidSignature
	default:
		return "", ErrInvalidToken
	}
	if !parsed.Valid || claims.TokenType != tokenTypeAccess {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// RotateRefresh exchanges a refresh token for a new pair. The presented
// record is revoked and a new one is created in the same family. Presenting
// an already-rotated token means the token leaked or the client desynced;
// either way the whole family is revoked and the session must re-login.
func (s *Service) RotateRefresh(ctx context.Context, raw string) (TokenPair, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	store := s.store.RefreshTokens()
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if record.Revoked() {
		if record.RevokedReason == RevokeReasonRotated || record.RevokedReason == RevokeReasonReuse {
			return TokenPair{}, s.handleReuse(ctx, record)
		}
		return TokenPair{}, ErrRevokedToken
	}
	if s.now().After(record.ExpiresAt.Add(clockSkewLeeway)) {
		return TokenPair{}, ErrExpiredToken
	}
	if !matchesTokenHash(record.TokenHash, secret) {
		// Correct id, wrong secret: burn the record.
		_ = store.MarkRevoked(ctx, record.ID, RevokeReasonAdmin)
		return TokenPair{}, ErrInvalidToken
	}

	// MarkRevoked is the serialization point: when two exchanges race over
	// the same record only one wins, the other observes reuse.
	if err := store.MarkRevoked(ctx, record.ID, RevokeReasonRotated); err != nil {
		if errors.Is(err, ErrRevokedToken) {
			return TokenPair{}, s.handleReuse(ctx, record)
		}
		return TokenPair{}, err
	}

	pair, err := s.mintPair(ctx, record.UserID, record.FamilyID)
	if err != nil {
		return TokenPair{}, err
	}
	obs.RefreshRotationsTotal.Inc()
	return pair, nil
}

// Logout revokes the presented refresh token. The access token is left to
// expire on its own.
func (s *Service) Logout(ctx context.Context, raw string) error {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return ErrInvalidToken
	}
	store := s.store.RefreshTokens()
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if !matchesTokenHash(record.TokenHash, secret) {
		return ErrInvalidToken
	}
	if record.Revoked() {
		return nil
	}
	if err := store.MarkRevoked(ctx, record.ID, RevokeReasonLogout); err != nil {
		if errors.Is(err, ErrRevokedToken) {
			return nil
		}
		return err
	}
	obs.RevocationsTotal.WithLabelValues(RevokeReasonLogout).Inc()
	return nil
}

// RevokeAll invalidates every outstanding refresh token for a user.
func (s *Service) RevokeAll(ctx context.Context, userID, reason string) error {
	if err := s.store.RefreshTokens().RevokeByUser(ctx, userID, reason); err != nil {
		return err
	}
	obs.RevocationsTotal.WithLabelValues(reason).Inc()
	return nil
}

func (s *Service) handleReuse(ctx context.Context, record *RefreshToken) error {
	if err := s.store.RefreshTokens().RevokeFamily(ctx, record.FamilyID, RevokeReasonReuse); err != nil {
		return err
	}
	obs.ReuseDetectedTotal.Inc()
	obs.RevocationsTotal.WithLabelValues(RevokeReasonReuse).Inc()
	return ErrReuseDetected
}

func (s *Service) mintPair(ctx context.Context, userID, familyID string) (TokenPair, error) {
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(userID, familyID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := accessClaims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) generateRefreshToken(userID, familyID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	if familyID == "" {
		familyID = tokenID
	}
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func matchesTokenHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
