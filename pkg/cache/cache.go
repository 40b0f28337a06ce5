package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// Kind names the kind of snapshot stored for a user.
type Kind string

const (
	KindAttendance Kind = "attendance"
	KindCGPA       Kind = "cgpa"
	KindInternals  Kind = "internals"
	KindExams      Kind = "exams"
	KindProfile    Kind = "profile"
)

// Kinds lists every kind, in invalidation order.
var Kinds = []Kind{KindAttendance, KindCGPA, KindInternals, KindExams, KindProfile}

// DefaultTTLs reflect how often each kind changes upstream.
var DefaultTTLs = map[Kind]time.Duration{
	KindAttendance: 30 * time.Minute,
	KindCGPA:       time.Hour,
	KindInternals:  30 * time.Minute,
	KindExams:      time.Hour,
	KindProfile:    24 * time.Hour,
}

// Entry is the envelope written to the store.
type Entry struct {
	UserID    string          `json:"userId"`
	Kind      Kind            `json:"kind"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Data      json.RawMessage `json:"data"`
}

// Cache stores typed snapshots per (kind, user) in a Store.
type Cache struct {
	store Store
	ttls  map[Kind]time.Duration
	now   func() time.Time
}

// New wraps store. Kinds missing from ttls use DefaultTTLs.
func New(store Store, ttls map[Kind]time.Duration) *Cache {
	merged := make(map[Kind]time.Duration, len(DefaultTTLs))
	for k, v := range DefaultTTLs {
		merged[k] = v
	}
	for k, v := range ttls {
		if v > 0 {
			merged[k] = v
		}
	}
	return &Cache{store: store, ttls: merged, now: time.Now}
}

// Key is the store key of a user's snapshot.
func Key(kind Kind, userID string) string {
	return "nimora:" + string(kind) + ":" + userID
}

func (c *Cache) TTL(kind Kind) time.Duration {
	return c.ttls[kind]
}

// Get decodes the user's snapshot into out. It reports false, with no
// error, when nothing usable is cached: absent, expired or undecodable
// entries all count as a miss.
func (c *Cache) Get(ctx context.Context, kind Kind, userID string, out interface{}) (bool, error) {
	raw, err := c.store.Get(ctx, Key(kind, userID))
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	expires, err := time.Parse(time.RFC3339Nano, gjson.GetBytes(raw, "expiresAt").String())
	if err != nil || !c.now().Before(expires) {
		return false, nil
	}
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return false, nil
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return false, nil
	}
	return true, nil
}

// Put overwrites the user's snapshot of kind.
func (c *Cache) Put(ctx context.Context, kind Kind, userID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ttl := c.TTL(kind)
	now := c.now().UTC()
	raw, err := json.Marshal(Entry{
		UserID:    userID,
		Kind:      kind,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
		Data:      data,
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(kind, userID), raw, ttl)
}

// Invalidate drops the user's snapshots of kinds, or of every kind when
// none are given.
func (c *Cache) Invalidate(ctx context.Context, userID string, kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, Key(k, userID))
	}
	return c.store.Delete(ctx, keys...)
}

func (c *Cache) Close() error {
	return c.store.Close()
}
