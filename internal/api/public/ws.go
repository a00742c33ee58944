package public

import (
	"net/http"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleScoreboardWs pushes the public scoreboard whenever it changes.
// Change notifications only trigger a fresh public snapshot, so the frozen
// view is never bypassed. The contest clock starting, freezing or thawing
// the board also triggers a push.
func (h *Handler) handleScoreboardWs(c *gin.Context) {
	cc, ok := h.activeContest(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Errorf("failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	changes, unsubscribe := h.broker.Subscribe(pubsub.ScoreboardTopic(cc.ID()))
	defer unsubscribe()

	var (
		sent       uint64
		sentState  contest.State
		sentFrozen bool
	)
	push := func() error {
		snap, err := h.board.GetSnapshot(c.Request.Context(), cc, scoreboard.AudiencePublic, time.Now())
		if err != nil {
			return conn.WriteMessage(websocket.TextMessage, pubsub.FormatMessage("error", err.Error()))
		}
		if sent != 0 && snap.Version <= sent && snap.State == sentState && snap.Frozen == sentFrozen {
			return nil
		}
		sent, sentState, sentFrozen = snap.Version, snap.State, snap.Frozen
		return conn.WriteMessage(websocket.TextMessage, pubsub.FormatMessage("scoreboard", snap))
	}

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					zap.S().Infof("websocket unexpected close error: %v", err)
				}
				return
			}
		}
	}()

	// fires when the contest clock next changes what the public sees
	clock := time.NewTimer(time.Hour)
	clock.Stop()
	defer clock.Stop()
	armClock := func() {
		if next, ok := cc.Clock().NextChange(time.Now()); ok {
			clock.Reset(time.Until(next))
		}
	}

	if err := push(); err != nil {
		return
	}
	armClock()
	for {
		select {
		case <-clientClosed:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := push(); err != nil {
				zap.S().Warnf("error writing to websocket: %v", err)
				return
			}
		case <-clock.C:
			if err := push(); err != nil {
				zap.S().Warnf("error writing to websocket: %v", err)
				return
			}
			armClock()
		}
	}
}
