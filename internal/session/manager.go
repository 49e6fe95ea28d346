package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketscope/dispatch/internal/circuitbreaker"
	"github.com/marketscope/dispatch/internal/metrics"
)

const maxHistoryRecords = 50

// Manager handles session state with a Redis backend and a bounded local
// cache. Redis access goes through the circuit breaker wrapper so a dead
// backend degrades to cache-only reads instead of piling up timeouts.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxSessions int
}

// NewManager connects to Redis and creates a session manager.
func NewManager(redisAddr, redisPassword string, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	m := NewManagerWithClient(client, ttl, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return m, nil
}

// NewManagerWithClient creates a manager over an existing Redis client.
func NewManagerWithClient(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		client:      circuitbreaker.NewRedisWrapper(client, logger),
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: 10000,
	}
}

// CreateSession creates a new session for a user.
func (m *Manager) CreateSession(ctx context.Context, userID string) (*Session, error) {
	return m.createSession(ctx, uuid.New().String(), userID)
}

func (m *Manager) createSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		History:   make([]QueryRecord, 0),
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[session.ID] = session
	m.cacheAccess[session.ID] = now
	m.evictLocked()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created new session",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
	)
	metrics.SessionsCreated.Inc()
	return session, nil
}

// GetSession retrieves a session, local cache first, then Redis.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	cached, ok := m.localCache[sessionID]
	m.mu.RUnlock()
	if ok {
		if cached.IsExpired() {
			_ = m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return cached, nil
	}

	data, err := m.client.Get(ctx, m.sessionKey(sessionID))
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.IsExpired() {
		_ = m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	m.localCache[sessionID] = &session
	m.cacheAccess[sessionID] = time.Now()
	m.evictLocked()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &session, nil
}

// RecordDispatch appends a dispatch outcome to the session history,
// trimming the history to a bounded length. Session ids are caller-chosen
// opaque strings, so an unknown or expired id starts a fresh session.
func (m *Manager) RecordDispatch(ctx context.Context, sessionID, query string, markets []string, success bool) error {
	session, err := m.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
		session, err = m.createSession(ctx, sessionID, "")
	}
	if err != nil {
		return err
	}

	session.History = append(session.History, QueryRecord{
		Query:     query,
		Markets:   markets,
		Success:   success,
		Timestamp: time.Now(),
	})
	if len(session.History) > maxHistoryRecords {
		session.History = session.History[len(session.History)-maxHistoryRecords:]
	}
	if len(markets) > 0 {
		session.LastMarkets = markets
	}
	session.UpdatedAt = time.Now()

	return m.saveSession(ctx, session)
}

// DeleteSession removes a session from Redis and the local cache.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return m.client.Del(ctx, m.sessionKey(sessionID))
}

// Ping checks backend connectivity, for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.sessionKey(session.ID), string(data), m.ttl)
}

func (m *Manager) sessionKey(id string) string {
	return "dispatch:session:" + id
}

// evictLocked drops least-recently-used entries when the local cache is
// over capacity. Caller holds m.mu.
func (m *Manager) evictLocked() {
	for len(m.localCache) > m.maxSessions {
		oldestID := ""
		var oldest time.Time
		for id, at := range m.cacheAccess {
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = id, at
			}
		}
		if oldestID == "" {
			return
		}
		delete(m.localCache, oldestID)
		delete(m.cacheAccess, oldestID)
	}
}
