package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pawnstorm/chess-duel-bot/internal/obslog"
)

const ledgerKey = "duel:stats"

// PlayerStats are the cumulative per-player counters. All counts are
// non-negative and only ever incremented.
type PlayerStats struct {
	GamesPlayed int `json:"games_played"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Draws       int `json:"draws"`
}

// Ledger holds the per-player counters in memory and persists them wholesale
// to a redis hash after every game conclusion. It carries no game logic.
type Ledger struct {
	rdb *redis.Client

	mu   sync.Mutex
	data map[string]PlayerStats
}

func NewLedger(redisURL string) (*Ledger, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for stats ledger")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Ledger{rdb: rdb, data: make(map[string]PlayerStats)}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

// Load replaces the in-memory mapping with the persisted one. A missing key
// is an empty ledger; a malformed field is skipped, never fatal.
func (l *Ledger) Load(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("ledger not initialized")
	}
	fields, err := l.rdb.HGetAll(ctx, ledgerKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	data := make(map[string]PlayerStats, len(fields))
	for player, raw := range fields {
		var ps PlayerStats
		if jerr := json.Unmarshal([]byte(raw), &ps); jerr != nil {
			obslog.L().Warn("stats_load_skip_corrupt", zap.String("player_id", player), zap.Error(jerr))
			continue
		}
		data[player] = ps
	}
	l.mu.Lock()
	l.data = data
	l.mu.Unlock()
	return nil
}

// Get returns the current stats for a player. ok is false when the player has
// no record yet.
func (l *Ledger) Get(playerID string) (PlayerStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.data[playerID]
	return ps, ok
}

// RecordWinLoss adds one decided game to both participants' counters.
func (l *Ledger) RecordWinLoss(winnerID, loserID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.data[winnerID]
	w.GamesPlayed++
	w.Wins++
	l.data[winnerID] = w
	lo := l.data[loserID]
	lo.GamesPlayed++
	lo.Losses++
	l.data[loserID] = lo
}

// RecordDraw adds one drawn game to both participants' counters.
func (l *Ledger) RecordDraw(aID, bID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range []string{aID, bID} {
		ps := l.data[id]
		ps.GamesPlayed++
		ps.Draws++
		l.data[id] = ps
	}
}

// Save persists the full mapping with overwrite semantics. Last writer wins;
// per-game handling is serialized, so partial writes cannot interleave.
func (l *Ledger) Save(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("ledger not initialized")
	}
	l.mu.Lock()
	fields := make(map[string]string, len(l.data))
	for player, ps := range l.data {
		raw, err := json.Marshal(ps)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		fields[player] = string(raw)
	}
	l.mu.Unlock()

	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, ledgerKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, ledgerKey, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats save: %w", err)
	}
	return nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
