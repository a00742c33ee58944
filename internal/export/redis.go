package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Audiences are the snapshots mirrored for every contest.
var Audiences = []scoreboard.Audience{scoreboard.AudiencePublic, scoreboard.AudienceJury}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisExporter mirrors ranked snapshots into Redis as zstd compressed JSON
// for read replicas and external displays.
type RedisExporter struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	board    *scoreboard.Cache
	registry *contest.Registry

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.Mutex
	dirty  map[string]bool
	notify chan struct{}
}

func NewRedisExporter(client *redis.Client, prefix string, ttl time.Duration, board *scoreboard.Cache, registry *contest.Registry) (*RedisExporter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &RedisExporter{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		board:    board,
		registry: registry,
		enc:      enc,
		dec:      dec,
		dirty:    make(map[string]bool),
		notify:   make(chan struct{}, 1),
	}, nil
}

func (e *RedisExporter) Key(contestID string, audience scoreboard.Audience) string {
	return fmt.Sprintf("%s:scoreboard:%s:%s", e.prefix, contestID, audience)
}

// Export writes the current snapshots of a contest. A public board of a
// contest that has not started is removed instead.
func (e *RedisExporter) Export(ctx context.Context, contestID string) error {
	cc, err := e.registry.Context(contestID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, audience := range Audiences {
		key := e.Key(contestID, audience)
		snap, err := e.board.GetSnapshot(ctx, cc, audience, now)
		if errors.Is(err, scoreboard.ErrNotStarted) {
			if err := e.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if err := e.client.Set(ctx, key, e.enc.EncodeAll(data, nil), e.ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s failed: %w", key, err)
		}
	}
	return nil
}

// Fetch reads back an exported snapshot.
func (e *RedisExporter) Fetch(ctx context.Context, contestID string, audience scoreboard.Audience) (*scoreboard.Snapshot, error) {
	raw, err := e.client.Get(ctx, e.Key(contestID, audience)).Bytes()
	if err != nil {
		return nil, err
	}
	data, err := e.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode failed: %w", err)
	}
	var snap scoreboard.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Hook marks a contest for export. Bursts of changes are coalesced by Run.
func (e *RedisExporter) Hook() scoreboard.ChangeHook {
	return func(contestID string, _ uint64) {
		e.mu.Lock()
		e.dirty[contestID] = true
		e.mu.Unlock()
		select {
		case e.notify <- struct{}{}:
		default:
		}
	}
}

func (e *RedisExporter) takeDirty() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	e.dirty = make(map[string]bool)
	return ids
}

// nextClockChange returns the next instant at which a contest's public view
// may change without new results, and the contests changing then.
func (e *RedisExporter) nextClockChange(now time.Time) (time.Time, []string) {
	var next time.Time
	var due []string
	for _, ct := range e.registry.AllContests() {
		t, ok := ct.Clock.NextChange(now)
		switch {
		case !ok:
		case next.IsZero() || t.Before(next):
			next, due = t, []string{ct.ID}
		case t.Equal(next):
			due = append(due, ct.ID)
		}
	}
	return next, due
}

func (e *RedisExporter) exportAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.Export(ctx, id); err != nil {
			zap.S().Errorf("failed to export scoreboard of contest %s: %v", id, err)
		}
	}
}

// Run exports dirty contests until ctx is done. Contests are also exported
// when their clock starts, freezes or thaws the board.
func (e *RedisExporter) Run(ctx context.Context) {
	for {
		var clockC <-chan time.Time
		var timer *time.Timer
		next, due := e.nextClockChange(time.Now())
		if len(due) > 0 {
			timer = time.NewTimer(time.Until(next))
			clockC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.notify:
			e.exportAll(ctx, e.takeDirty())
		case <-clockC:
			zap.S().Debugf("contest clock changed at %s, exporting %v", next.Format(time.RFC3339), due)
			e.exportAll(ctx, due)
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (e *RedisExporter) Close() {
	e.enc.Close()
	e.dec.Close()
}
