package notify

import (
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
)

// ScoreboardChange is pushed to scoreboard stream subscribers. Clients
// fetch the new snapshot themselves so that no audience leaks into another.
type ScoreboardChange struct {
	ContestID string `json:"contest_id"`
	Version   uint64 `json:"version"`
}

func PublishChanges(b *pubsub.Broker) scoreboard.ChangeHook {
	return func(contestID string, version uint64) {
		b.Publish(pubsub.ScoreboardTopic(contestID),
			pubsub.FormatMessage("scoreboard", ScoreboardChange{ContestID: contestID, Version: version}))
	}
}
