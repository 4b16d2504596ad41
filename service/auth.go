package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/cache"
)

var (
	ErrTokenMissing = errors.New("token not provided")
	ErrRevoked      = errors.New("participant revoked")
)

const tokenLifetime = 24 * time.Hour

func (s *Service) CreateJWT(participantId string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":  participantId,
		"exp": now.Add(tokenLifetime).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

// VerifyJWT returns the participant id and expiry carried by tokenString.
func (s *Service) VerifyJWT(tokenString string) (string, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", time.Time{}, err
	}

	if !token.Valid {
		return "", time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", time.Time{}, errors.New("invalid token claims")
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return "", time.Time{}, errors.New("missing id claim")
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return "", time.Time{}, errors.New("missing exp claim")
	}
	expiry := time.Unix(int64(expFloat), 0)

	return id, expiry, nil
}

// AuthenticateToken resolves a token to its participant id, refusing tokens
// whose participant has been revoked.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (string, error) {
	if len(token) == 0 {
		return "", ErrTokenMissing
	}

	participantId, _, err := s.VerifyJWT(token)
	if err != nil {
		return "", err
	}

	if s.Cache != nil {
		revoked, err := s.Cache.IsRevoked(ctx, participantId)
		if err != nil {
			// Fail open: the cache is a revocation list, not the identity source.
			log.Warn().Str("module", "service.auth").Str("participant", participantId).Err(err).Msg("revocation check failed")
		} else if revoked {
			return "", ErrRevoked
		}
	}

	return participantId, nil
}

// IssueDevToken mints a token for a fresh participant id. Dev mode only.
func (s *Service) IssueDevToken() (string, string, error) {
	if !s.DevMode {
		return "", "", errors.New("dev tokens are disabled")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", "", err
	}
	token, err := s.CreateJWT(id.String())
	if err != nil {
		return "", "", fmt.Errorf("token generation failed: %w", err)
	}
	return id.String(), token, nil
}

type ParticipantRevokedMessage struct {
	ParticipantId string `json:"participantId"`
}

// RevokeParticipant blocks the participant's tokens until expiry and tells
// every relay instance to drop its connections.
func (s *Service) RevokeParticipant(ctx context.Context, participantId string, expiry time.Time) error {
	if s.Cache == nil {
		return nil
	}

	ttl := time.Until(expiry)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.Cache.MarkRevoked(ctx, participantId, ttl); err != nil {
		return err
	}

	// Async side-effects - return to caller as soon as the revocation is stored
	go func() {
		msg := ParticipantRevokedMessage{ParticipantId: participantId}
		if msgBytes, err := json.Marshal(msg); err == nil {
			if err := s.Cache.Publish(context.Background(), cache.ChannelParticipantRevoked, msgBytes); err != nil {
				log.Error().Str("module", "service.auth").Str("participant", participantId).Err(err).Msg("publish revocation failed")
			}
		}
	}()

	return nil
}
