// Package apitest builds a complete service graph on a temporary SQLite
// database for HTTP handler tests.
package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/auth"
	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/notify"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/verdict"
	"github.com/gin-gonic/gin"
)

const (
	Secret    = "test-secret"
	Password  = "s3cret"
	Judgehost = "jh1"
	Jury      = "jury"
	ContestID = "wf"
)

// Env is a running service graph. Start is the contest start time.
type Env struct {
	Services *api.Services
	Start    time.Time
}

// New builds an Env whose contest "wf" started startOffset ago, with
// problems A (two test cases) and B, teams t1 and t2 and language cpp.
func New(t *testing.T, startOffset time.Duration) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Init(config.Storage{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("init database: %v", err)
	}
	hash, err := auth.HashPassword(Password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := &config.Config{
		Auth: config.Auth{
			JWT:        config.JWT{Secret: Secret, ExpireHours: 1},
			Judgehosts: []config.Account{{Name: Judgehost, PasswordHash: hash}},
			Jury:       []config.Account{{Name: Jury, PasswordHash: hash}},
		},
		Queue: config.Queue{AbandonTimeout: time.Minute},
	}

	start := time.Now().UTC().Add(-startOffset).Truncate(time.Second)
	registry := contest.NewRegistry(contest.Rules{
		PenaltyTime: 20,
		LazyEval:    true,
		Priorities:  verdict.DefaultPriorities(),
		Remap:       verdict.Remap{},
	}, []config.Language{{ID: "cpp", Name: "C++", TimeFactor: 1}})
	testcases := []contest.Testcase{{Rank: 1, Input: "1.in", Output: "1.ans"}, {Rank: 2, Input: "2.in", Output: "2.ans"}}
	registry.Set(
		map[string]*contest.Contest{ContestID: {
			ID:         ContestID,
			Name:       "World Finals",
			ProblemIDs: []string{"A", "B"},
			Teams:      []*contest.Team{{ID: "t1", Name: "Team One"}, {ID: "t2", Name: "Team Two"}},
			Clock:      contest.Clock{Start: start, StartEnabled: true, End: start.Add(5 * time.Hour)},
		}},
		map[string]*contest.Problem{
			"A": {ID: "A", TimeLimit: 1, Testcases: testcases, ContestID: ContestID},
			"B": {ID: "B", TimeLimit: 1, Testcases: testcases[:1], ContestID: ContestID},
		},
	)
	if err := database.SyncTeams(db, []models.Team{{ID: "t1", Name: "Team One"}, {ID: "t2", Name: "Team Two"}}); err != nil {
		t.Fatalf("sync teams: %v", err)
	}

	board := scoreboard.NewCache(database.NewScoreSource(db))
	broker := pubsub.NewBroker(pubsub.DefaultHistory)
	balloons := notify.NewBalloonLog(db, broker)
	board.OnNewCorrectSolve(balloons.Hook())
	board.OnChange(notify.PublishChanges(broker))

	queue := judgequeue.NewCoordinator(db, registry, board, nil, judgequeue.Options{
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
		MaxWait:         time.Second,
		ClaimRetries:    5,
	})
	if _, err := queue.RegisterJudgehost(context.Background(), Judgehost, models.Restrictions{RejudgeOwn: true}); err != nil {
		t.Fatalf("register judgehost: %v", err)
	}

	return &Env{
		Services: &api.Services{
			Config:   cfg,
			DB:       db,
			Registry: registry,
			Board:    board,
			Queue:    queue,
			Balloons: balloons,
			Broker:   broker,
		},
		Start: start,
	}
}

// Submit stores a submission made minute minutes into the contest.
func (e *Env) Submit(t *testing.T, team, problem string, minute int) *models.Submission {
	t.Helper()
	sub, err := e.Services.Queue.CreateSubmission(context.Background(), judgequeue.NewSubmission{
		ContestID:  ContestID,
		TeamID:     team,
		ProblemID:  problem,
		LanguageID: "cpp",
		SubmitTime: e.Start.Add(time.Duration(minute) * time.Minute),
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

// SetClock changes the contest clock. Call it before serving requests.
func (e *Env) SetClock(t *testing.T, clock contest.Clock) {
	t.Helper()
	ct, err := e.Services.Registry.Contest(ContestID)
	if err != nil {
		t.Fatalf("contest: %v", err)
	}
	ct.Clock = clock
}

// Judge claims the next submission as the test judgehost and finishes it
// with verdict v on every test case.
func (e *Env) Judge(t *testing.T, v string) *judgequeue.Assignment {
	t.Helper()
	ctx := context.Background()
	a, err := e.Services.Queue.ClaimNext(ctx, Judgehost)
	if err != nil || a == nil {
		t.Fatalf("claim: %v %v", a, err)
	}
	runs := make([]judgequeue.RunReport, a.TestcaseCount)
	for i := range runs {
		runs[i] = judgequeue.RunReport{Rank: i + 1, Verdict: v}
	}
	if _, err := e.Services.Queue.ReportResult(ctx, Judgehost, a.SubmissionID, a.JudgingID, "", runs); err != nil {
		t.Fatalf("report: %v", err)
	}
	return a
}

// Token signs a token for subject with role.
func Token(t *testing.T, subject, role string) string {
	t.Helper()
	token, err := auth.GenerateJWT(subject, role, Secret, 1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// Response is the decoded response envelope.
type Response struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Do sends a request to the engine. body, if not nil, is sent as JSON and
// token, if not empty, as a bearer token.
func Do(t *testing.T, r http.Handler, method, path, token string, body interface{}) (int, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, resp
}

// Decode unmarshals the envelope's data into v.
func (r Response) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", r.Data, err)
	}
}
