package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"martstock-api/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the prefix for all session tokens
	SessionPrefix = "mst_"

	// SessionRedisKeyPrefix is the Redis key prefix for sessions
	SessionRedisKeyPrefix = "martstock:session:"
)

// SessionService issues and validates opaque session tokens. The identity
// provider behind sign-in is an external collaborator; the engine only needs
// the acting user's email, and a lost session gates mutations the same way a
// lost change channel does.
type SessionService struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSessionService creates a new session service.
func NewSessionService(redisClient *redis.Client, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionService{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Issue creates a new session token for the given identity.
func (s *SessionService) Issue(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("empty email")
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	token := SessionPrefix + hex.EncodeToString(tokenBytes)

	data := model.SessionData{
		Email:     email,
		CreatedAt: time.Now(),
	}
	data.ExpiresAt = data.CreatedAt.Add(s.ttl)

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session data: %w", err)
	}

	key := SessionRedisKeyPrefix + token
	if err := s.redis.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	log.Printf("[SessionService] Issued session for %s, expires=%v", email, data.ExpiresAt)

	return token, nil
}

// Validate checks if a session token is valid and returns its data.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.SessionData, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	if len(token) < len(SessionPrefix) || token[:len(SessionPrefix)] != SessionPrefix {
		return nil, fmt.Errorf("invalid token format")
	}

	key := SessionRedisKeyPrefix + token
	jsonData, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data model.SessionData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse session data: %w", err)
	}

	if time.Now().After(data.ExpiresAt) {
		s.redis.Del(ctx, key)
		return nil, fmt.Errorf("session expired")
	}

	return &data, nil
}

// Revoke deletes a session from Redis.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	key := SessionRedisKeyPrefix + token
	return s.redis.Del(ctx, key).Err()
}

// Refresh extends the TTL of an existing session.
func (s *SessionService) Refresh(ctx context.Context, token string) error {
	key := SessionRedisKeyPrefix + token

	jsonData, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}

	var data model.SessionData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return err
	}

	data.ExpiresAt = time.Now().Add(s.ttl)

	newJSON, _ := json.Marshal(data)
	return s.redis.Set(ctx, key, newJSON, s.ttl).Err()
}
