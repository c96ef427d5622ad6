// Package redisstore はRedisを使用したセッションストアを提供する。
// REDIS_URLが設定されている場合、PostgreSQLのsessionsテーブルの代わりに使用する。
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/repository"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// SessionStore はRedisを使用したセッションストア。
// セッション本体は有効期限をTTLとして保存し、ユーザーごとのセッションIDを
// 有効期限をスコアとするSorted Setで管理する。
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewClient はREDIS_URLからRedisクライアントを生成し、疎通を確認する。
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewSessionStore はSessionStoreを生成する。
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionKey(userID string) string {
	return userSessionKeyPrefix + userID
}

// Create はセッションを保存する。既に期限切れのセッションはエラーとする。
func (s *SessionStore) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	indexKey := userSessionKey(session.UserID)
	current, err := s.client.PTTL(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read session index ttl: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		s.index(ctx, pipe, session, ttl, current)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *SessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, nil
	}
	return session, nil
}

// Extend はセッションの有効期限を延長する。
// 読み取りから書き込みまでの間に削除された場合は延長しない。
func (s *SessionStore) Extend(ctx context.Context, id string, expiresAt time.Time) (*model.Session, error) {
	key := sessionKey(id)
	var extended *model.Session

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		session, err := decodeSession(data)
		if err != nil {
			return err
		}
		if session.Expired(s.now()) {
			return nil
		}

		ttl := expiresAt.Sub(s.now())
		if ttl <= 0 {
			return fmt.Errorf("expiry %s is in the past", expiresAt.Format(time.RFC3339))
		}
		session.ExpiresAt = expiresAt
		updated, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		current, err := tx.PTTL(ctx, userSessionKey(session.UserID)).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			s.index(ctx, pipe, session, ttl, current)
			return nil
		})
		if err != nil {
			return err
		}
		extended = session
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	return extended, nil
}

// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
func (s *SessionStore) DeleteByID(ctx context.Context, id string) error {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if session, decErr := decodeSession(data); decErr == nil {
		pipe.ZRem(ctx, userSessionKey(session.UserID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (s *SessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	ids, err := s.client.ZRange(ctx, userSessionKey(userID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionKey(userID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// index はユーザーごとのセッション索引を更新する。
// 期限切れのメンバーを取り除き、索引のTTLは最も長いセッションに合わせて延ばすだけで縮めない。
// currentは索引の現在のPTTL（キーなし・TTLなしの場合は負値）。
func (s *SessionStore) index(ctx context.Context, pipe redis.Pipeliner, session *model.Session, ttl, current time.Duration) {
	key := userSessionKey(session.UserID)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(session.ExpiresAt.Unix()), Member: session.ID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(s.now().Unix(), 10))
	if current < ttl {
		pipe.PExpire(ctx, key, ttl)
	}
}

func decodeSession(data []byte) (*model.Session, error) {
	session := &model.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

// compile-time interface check
var _ repository.SessionRepository = (*SessionStore)(nil)
