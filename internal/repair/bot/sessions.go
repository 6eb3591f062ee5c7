package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mode is what the bot expects from a chat next.
type Mode string

const (
	ModeIdle           Mode = ""
	ModeNewCategory    Mode = "new_category"
	ModeNewDescription Mode = "new_description"
	ModeNewPhotos      Mode = "new_photos"
	ModeNewLocation    Mode = "new_location"
	ModePrice          Mode = "price"
	ModeFinalPrice     Mode = "final_price"
	ModeCode           Mode = "code"
)

// Draft collects the answers of the new request dialog.
type Draft struct {
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Photos      []string `json:"photos,omitempty"`
}

// Session is the per-chat conversation state.
type Session struct {
	Mode      Mode  `json:"mode"`
	RequestID int64 `json:"request_id,omitempty"`
	Version   int   `json:"version,omitempty"`
	Draft     Draft `json:"draft"`
}

// Sessions stores conversation state and the negotiation chat relay.
type Sessions interface {
	Get(ctx context.Context, chatID int64) (Session, error)
	Save(ctx context.Context, chatID int64, s Session) error
	Reset(ctx context.Context, chatID int64) error

	Open(ctx context.Context, requestID int64, members []int64) error
	Close(ctx context.Context, requestID int64, members []int64) error
	// Relay returns the request whose chat the member is currently in.
	Relay(ctx context.Context, chatID int64) (int64, bool, error)
}

// RedisSessions keeps sessions as JSON values with a sliding TTL.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSessions constructs Redis backed sessions.
func NewRedisSessions(rdb *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("repair:session:%d", chatID)
}

func relayKey(chatID int64) string {
	return fmt.Sprintf("repair:relay:%d", chatID)
}

func (r *RedisSessions) Get(ctx context.Context, chatID int64) (Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return s, nil
}

func (r *RedisSessions) Save(ctx context.Context, chatID int64, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKey(chatID), raw, r.ttl).Err()
}

func (r *RedisSessions) Reset(ctx context.Context, chatID int64) error {
	return r.rdb.Del(ctx, sessionKey(chatID)).Err()
}

func (r *RedisSessions) Open(ctx context.Context, requestID int64, members []int64) error {
	pipe := r.rdb.TxPipeline()
	for _, id := range members {
		pipe.Set(ctx, relayKey(id), strconv.FormatInt(requestID, 10), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisSessions) Close(ctx context.Context, requestID int64, members []int64) error {
	for _, id := range members {
		current, ok, err := r.Relay(ctx, id)
		if err != nil {
			return err
		}
		if ok && current == requestID {
			if err := r.rdb.Del(ctx, relayKey(id)).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RedisSessions) Relay(ctx context.Context, chatID int64) (int64, bool, error) {
	val, err := r.rdb.Get(ctx, relayKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("relay %d: %w", chatID, err)
	}
	return id, true, nil
}

// MemorySessions is the in-process fallback used when Redis is not configured.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[int64]Session
	relays   map[int64]int64
}

// NewMemorySessions constructs empty in-memory sessions.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[int64]Session), relays: make(map[int64]int64)}
}

func (m *MemorySessions) Get(_ context.Context, chatID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[chatID]
	s.Draft.Photos = append([]string(nil), s.Draft.Photos...)
	return s, nil
}

func (m *MemorySessions) Save(_ context.Context, chatID int64, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Draft.Photos = append([]string(nil), s.Draft.Photos...)
	m.sessions[chatID] = s
	return nil
}

func (m *MemorySessions) Reset(_ context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Open(_ context.Context, requestID int64, members []int64) error {
	m.mu.Lock()
	for _, id := range members {
		m.relays[id] = requestID
	}
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Close(_ context.Context, requestID int64, members []int64) error {
	m.mu.Lock()
	for _, id := range members {
		if m.relays[id] == requestID {
			delete(m.relays, id)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Relay(_ context.Context, chatID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.relays[chatID]
	return id, ok, nil
}
