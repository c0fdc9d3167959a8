package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is an authenticated bearer session.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore issues signed bearer tokens and keeps the live sessions in
// Redis so logout revokes them before they expire.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	secret []byte
	now    func() time.Time
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, secret string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, secret: []byte(secret), now: time.Now}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a session for userID and returns its signed token.
func (s *SessionStore) Issue(ctx context.Context, userID int64) (string, Session, error) {
	now := s.now().UTC().Truncate(time.Second)
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("shared: sign session: %w", err)
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", Session{}, err
	}
	if err := s.client.Set(ctx, s.redisKey(sess.ID), payload, s.ttl).Err(); err != nil {
		return "", Session{}, err
	}
	return token, sess, nil
}

// Resolve verifies token and returns the live session behind it.
func (s *SessionStore) Resolve(ctx context.Context, token string) (Session, error) {
	id, err := s.parse(token)
	if err != nil {
		return Session{}, err
	}
	payload, err := s.client.Get(ctx, s.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionExpired
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Revoke deletes the session behind token. Unknown tokens are ignored.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	id, err := s.parse(token)
	if err != nil {
		return nil
	}
	if err := s.client.Del(ctx, s.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *SessionStore) parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || claims.ID == "" {
		return "", ErrSessionExpired
	}
	return claims.ID, nil
}

func (s *SessionStore) redisKey(id string) string {
	return "session:" + id
}
