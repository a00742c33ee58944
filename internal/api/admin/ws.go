package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ZJUSCT/CSJudge/internal/auth"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
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

// handleBalloonWs streams a contest's balloons to the balloon runners. The
// undelivered backlog is sent first, then every new balloon as it is
// recorded. Browsers cannot set headers on websockets, so the jury token
// comes in the token query parameter.
func (h *Handler) handleBalloonWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.String(http.StatusUnauthorized, "token query parameter is required")
		return
	}
	claims, err := auth.ValidateJWT(tokenString, h.cfg.Auth.JWT.Secret)
	if err != nil || claims.Role != auth.RoleJury {
		c.String(http.StatusUnauthorized, "invalid token")
		return
	}
	cc, ok := h.contestContext(c)
	if !ok {
		return
	}
	var since uint64
	if s := c.Query("since"); s != "" {
		if since, err = strconv.ParseUint(s, 10, 64); err != nil {
			c.String(http.StatusBadRequest, "since must be a sequence number")
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Errorf("failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	// subscribe before reading the backlog so that nothing falls in between
	live, unsubscribe := h.broker.Subscribe(pubsub.BalloonTopic(cc.ID()))
	defer unsubscribe()

	sent := make(map[uint64]bool)
	send := func(b models.Balloon) error {
		if sent[b.Seq] || b.Seq <= since {
			return nil
		}
		sent[b.Seq] = true
		return conn.WriteMessage(websocket.TextMessage, pubsub.FormatMessage("balloon", b))
	}

	backlog, err := h.balloons.Since(c.Request.Context(), cc.ID(), since)
	if err != nil {
		zap.S().Errorf("failed to load balloons of contest %s: %v", cc.ID(), err)
		conn.WriteMessage(websocket.TextMessage, pubsub.FormatMessage("error", "balloons unavailable"))
		return
	}
	for _, b := range backlog {
		if b.Done {
			sent[b.Seq] = true
			continue
		}
		if err := send(b); err != nil {
			return
		}
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

	for {
		select {
		case <-clientClosed:
			return
		case raw, ok := <-live:
			if !ok {
				return
			}
			var msg struct {
				Data models.Balloon `json:"data"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				zap.S().Warnf("malformed balloon message: %v", err)
				continue
			}
			if err := send(msg.Data); err != nil {
				zap.S().Warnf("error writing to websocket: %v", err)
				return
			}
		}
	}
}
