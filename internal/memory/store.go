// Package memory keeps short summaries of past orchestrations so later
// requests can be seeded with related context.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// Entry is one remembered exchange.
type Entry struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Strategy   string    `json:"strategy,omitempty"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrInvalidScope is returned when a scope is empty or not a valid key part.
var ErrInvalidScope = errors.New("invalid memory scope")

// Store is the optional memory collaborator of the orchestrator. Entries are
// partitioned by scope so one caller never sees another's history. Both
// methods are best effort: lookups return nothing on failure.
type Store interface {
	GetRelevantContext(ctx context.Context, scope, query string) []Entry
	Record(ctx context.Context, scope string, entry Entry) error
}

// Noop remembers nothing.
type Noop struct{}

func (Noop) GetRelevantContext(context.Context, string, string) []Entry { return nil }
func (Noop) Record(context.Context, string, Entry) error              { return nil }

const (
	defaultMaxEntries = 50
	defaultTTL        = 24 * time.Hour
	maxRelevant       = 3
	minRelevance      = 0.3
)

// RedisStore keeps entries newest first in one capped Redis list per scope.
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, cfg config.MemoryConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "consensus:memory:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	return &RedisStore{
		rdb:        rdb,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		logger:     logger,
	}
}

// New returns the store described by cfg. A disabled or unreachable memory
// yields Noop; the returned closer is always safe to call.
func New(ctx context.Context, cfg config.MemoryConfig, logger *zap.Logger) (Store, func() error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled || cfg.RedisAddr == "" {
		return Noop{}, func() error { return nil }
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Memory store unavailable, continuing without memory",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
		_ = rdb.Close()
		return Noop{}, func() error { return nil }
	}
	logger.Info("Memory store connected", zap.String("addr", cfg.RedisAddr))
	return NewRedisStore(rdb, cfg, logger), rdb.Close
}

func (s *RedisStore) key(scope string) string {
	return s.prefix + scope + ":entries"
}

// Record pushes entry to the front of the scope's list and trims the tail.
func (s *RedisStore) Record(ctx context.Context, scope string, entry Entry) error {
	if !ValidScope(scope) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	key := s.key(scope)
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal memory entry: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, int64(s.maxEntries-1))
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record memory entry: %w", err)
	}
	return nil
}

type scored struct {
	entry Entry
	score float64
	pos   int
}

// GetRelevantContext returns up to three entries of scope whose query
// overlaps the given one, most relevant first.
func (s *RedisStore) GetRelevantContext(ctx context.Context, scope, query string) []Entry {
	if !ValidScope(scope) {
		return nil
	}
	raw, err := s.rdb.LRange(ctx, s.key(scope), 0, int64(s.maxEntries-1)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Memory lookup failed", zap.Error(err))
		}
		return nil
	}

	var hits []scored
	for i, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Debug("Skipping malformed memory entry", zap.Error(err))
			continue
		}
		score := util.Overlap(query, e.Query)
		if score < minRelevance {
			continue
		}
		hits = append(hits, scored{entry: e, score: score, pos: i})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})
	if len(hits) > maxRelevant {
		hits = hits[:maxRelevant]
	}
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}
