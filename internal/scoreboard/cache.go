package scoreboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SolveEvent is emitted the first time a team's problem becomes correct.
type SolveEvent struct {
	ContestID    string        `json:"contest_id"`
	TeamID       string        `json:"team_id"`
	ProblemID    string        `json:"problem_id"`
	SubmissionID string        `json:"submission_id"`
	ContestTime  time.Duration `json:"contest_time"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	FirstToSolve bool          `json:"first_to_solve"`
}

// SolveHook is called for every new correct solve. Hooks run on the
// updating goroutine and must not block.
type SolveHook func(SolveEvent)

// ChangeHook is called after each publication of a new scoreboard state.
type ChangeHook func(contestID string, version uint64)

type board struct {
	mu      sync.Mutex
	state   atomic.Pointer[boardState]
	version atomic.Uint64

	memoMu sync.Mutex
	memo   map[bool]memoEntry
}

type memoEntry struct {
	version uint64
	rows    []Row
}

// Cache keeps the derived score state of every contest and serves ranked
// snapshots. Writers of one contest are serialized; readers never block on
// writers.
type Cache struct {
	source Source

	mu     sync.Mutex
	boards map[string]*board

	hooksMu     sync.RWMutex
	solveHooks  []SolveHook
	changeHooks []ChangeHook

	group singleflight.Group
}

func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		boards: make(map[string]*board),
	}
}

func (c *Cache) OnNewCorrectSolve(hook SolveHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.solveHooks = append(c.solveHooks, hook)
}

func (c *Cache) OnChange(hook ChangeHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.changeHooks = append(c.changeHooks, hook)
}

func (c *Cache) board(contestID string) *board {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[contestID]
	if !ok {
		b = &board{memo: make(map[bool]memoEntry)}
		c.boards[contestID] = b
	}
	return b
}

// Refresh rebuilds the whole contest from the source.
func (c *Cache) Refresh(ctx context.Context, cc *contest.Context) error {
	b := c.board(cc.ID())
	b.mu.Lock()
	version, err := c.refreshLocked(ctx, cc, b)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	c.fireChange(cc.ID(), version)
	return nil
}

func (c *Cache) refreshLocked(ctx context.Context, cc *contest.Context, b *board) (uint64, error) {
	start := time.Now()
	records, err := c.source.ContestSubmissions(ctx, cc.ID())
	if err != nil {
		return 0, fmt.Errorf("load submissions of contest %s: %w", cc.ID(), err)
	}

	grouped := make(map[cellKey][]SubmissionRecord)
	for _, rec := range records {
		k := cellKey{rec.TeamID, rec.ProblemID}
		grouped[k] = append(grouped[k], rec)
	}
	cells := make(map[cellKey]*Cell, len(grouped))
	for k, recs := range grouped {
		cell := Accumulate(cc, k.team, k.problem, recs)
		cells[k] = &cell
	}

	version := b.version.Add(1)
	b.state.Store(&boardState{version: version, cells: cells})

	metrics.ScoreboardRefresh.Observe(time.Since(start).Seconds())
	metrics.ScoreboardUpdates.WithLabelValues("refresh").Inc()
	zap.S().Debugf("scoreboard of contest %s rebuilt from %d submissions in %s (version %d)",
		cc.ID(), len(records), time.Since(start), version)
	return version, nil
}

// OnJudgingFinalized recomputes the single (team, problem) cell from the
// submissions currently in the source and republishes the contest state.
// It is also used after submissions are created, invalidated or rejudged.
func (c *Cache) OnJudgingFinalized(ctx context.Context, cc *contest.Context, teamID, problemID string) error {
	b := c.board(cc.ID())
	b.mu.Lock()

	cur := b.state.Load()
	if cur == nil {
		version, err := c.refreshLocked(ctx, cc, b)
		b.mu.Unlock()
		if err != nil {
			return err
		}
		c.fireChange(cc.ID(), version)
		return nil
	}

	records, err := c.source.CellSubmissions(ctx, cc.ID(), teamID, problemID)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("load submissions of team %s on problem %s: %w", teamID, problemID, err)
	}
	cell := Accumulate(cc, teamID, problemID, records)

	version := b.version.Add(1)
	next := cur.with(&cell, version)
	b.state.Store(next)
	metrics.ScoreboardUpdates.WithLabelValues("cell").Inc()

	var event *SolveEvent
	old, had := cur.cells[cellKey{teamID, problemID}]
	if cell.Jury.Correct && (!had || !old.Jury.Correct) {
		event = &SolveEvent{
			ContestID:    cc.ID(),
			TeamID:       teamID,
			ProblemID:    problemID,
			SubmissionID: cell.Jury.SubmissionID,
			ContestTime:  cell.Jury.SolveTime,
			SubmittedAt:  cell.Jury.SolvedAt,
			FirstToSolve: next.firstToSolve(cc)[cellKey{teamID, problemID}],
		}
	}
	b.mu.Unlock()

	if event != nil {
		zap.S().Infof("team %s solved problem %s in contest %s", teamID, problemID, cc.ID())
		c.fireSolve(*event)
	}
	c.fireChange(cc.ID(), version)
	return nil
}

// GetSnapshot returns the ranked scoreboard for an audience at asOf, which
// decides whether the board is frozen or final. A zero asOf means now.
func (c *Cache) GetSnapshot(ctx context.Context, cc *contest.Context, audience Audience, asOf time.Time) (*Snapshot, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	clock := cc.Clock()

	var jury, frozen bool
	switch audience {
	case AudienceJury:
		jury = true
	case AudiencePublic, AudienceJuryFrozen:
		if audience == AudiencePublic && !clock.Started(asOf) {
			return nil, ErrNotStarted
		}
		jury = clock.ShowFinal(asOf, false)
		frozen = clock.ShowFrozen(asOf)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAudience, audience)
	}

	b := c.board(cc.ID())
	st := b.state.Load()
	if st == nil {
		if err := c.Refresh(ctx, cc); err != nil {
			return nil, err
		}
		st = b.state.Load()
	}

	rows, err := c.rows(cc, b, st, jury)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ContestID: cc.ID(),
		Audience:  audience,
		AsOf:      asOf,
		State:     clock.State(asOf),
		Frozen:    frozen,
		Version:   st.version,
		Problems:  cc.Contest.ProblemIDs,
		Rows:      rows,
	}, nil
}

func (c *Cache) rows(cc *contest.Context, b *board, st *boardState, jury bool) ([]Row, error) {
	b.memoMu.Lock()
	if e, ok := b.memo[jury]; ok && e.version == st.version {
		b.memoMu.Unlock()
		return e.rows, nil
	}
	b.memoMu.Unlock()

	key := fmt.Sprintf("%s/%d/%t", cc.ID(), st.version, jury)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		rows := st.rows(cc, jury)
		b.memoMu.Lock()
		if e, ok := b.memo[jury]; !ok || e.version < st.version {
			b.memo[jury] = memoEntry{version: st.version, rows: rows}
		}
		b.memoMu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Row), nil
}

// Version reports the current state version of a contest, 0 if never built.
func (c *Cache) Version(contestID string) uint64 {
	if st := c.board(contestID).state.Load(); st != nil {
		return st.version
	}
	return 0
}

func (c *Cache) fireSolve(e SolveEvent) {
	c.hooksMu.RLock()
	hooks := c.solveHooks
	c.hooksMu.RUnlock()
	for _, h := range hooks {
		h(e)
	}
}

func (c *Cache) fireChange(contestID string, version uint64) {
	c.hooksMu.RLock()
	hooks := c.changeHooks
	c.hooksMu.RUnlock()
	for _, h := range hooks {
		h(contestID, version)
	}
}
