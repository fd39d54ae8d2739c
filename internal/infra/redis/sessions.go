package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

// StatusTTL bounds how long a published snapshot stays readable.
const StatusTTL = 24 * time.Hour

// PublishStatus stores the latest snapshot of s and announces it on SessionsChannel.
func (c *Client) PublishStatus(ctx context.Context, s *domain.Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, StatusTTL)
	pipe.Publish(ctx, SessionsChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish session status failed: %w", err)
	}
	return nil
}

// SessionStatus returns the last published snapshot of a session.
func (c *Client) SessionStatus(ctx context.Context, id string) (*domain.Session, error) {
	data, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return decodeSession(data)
}

func encodeSession(s *domain.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}
