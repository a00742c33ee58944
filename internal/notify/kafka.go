package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier forwards solve events to a Kafka topic. Events are queued
// by the hook and written by Run so scoreboard updates never wait on the
// broker.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	events chan scoreboard.SolveEvent

	closeOnce sync.Once
	done      chan struct{}
}

func NewKafkaNotifier(cfg config.Kafka) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return newKafkaNotifier(writer, cfg.Topic), nil
}

func newKafkaNotifier(w messageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		events: make(chan scoreboard.SolveEvent, 1024),
		done:   make(chan struct{}),
	}
}

func (k *KafkaNotifier) Hook() scoreboard.SolveHook {
	return func(e scoreboard.SolveEvent) {
		select {
		case k.events <- e:
		default:
			zap.S().Warnf("kafka solve queue full, dropping solve of team %s on %s", e.TeamID, e.ProblemID)
		}
	}
}

func (k *KafkaNotifier) toMessage(e scoreboard.SolveEvent) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: k.topic,
		Key:   []byte(e.ContestID + "/" + e.TeamID),
		Value: value,
		Time:  e.SubmittedAt,
		Headers: []kafka.Header{
			{Key: headerID, Value: []byte(uuid.NewString())},
			{Key: headerTimestamp, Value: []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))},
		},
	}, nil
}

// Run writes queued events until ctx is done.
func (k *KafkaNotifier) Run(ctx context.Context) {
	defer close(k.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-k.events:
			msg, err := k.toMessage(e)
			if err != nil {
				zap.S().Errorf("failed to encode solve event: %v", err)
				continue
			}
			if err := k.writer.WriteMessages(ctx, msg); err != nil {
				zap.S().Errorf("failed to publish solve of team %s on %s to kafka: %v", e.TeamID, e.ProblemID, err)
			}
		}
	}
}

// Close waits for Run to return and closes the writer. Run must have been
// started and its context cancelled.
func (k *KafkaNotifier) Close() error {
	var err error
	k.closeOnce.Do(func() {
		<-k.done
		err = k.writer.Close()
	})
	return err
}
