package pubsub

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultHistory is how many messages a topic keeps for late subscribers.
const DefaultHistory = 32

// Broker a simple in-memory pub/sub system.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan []byte // topic -> list of subscriber channels
	cache       map[string][][]byte      // topic -> most recent messages
	history     int
}

type WsMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

var (
	once   sync.Once
	broker *Broker
)

// GetBroker returns the process wide Broker.
func GetBroker() *Broker {
	once.Do(func() {
		broker = NewBroker(DefaultHistory)
	})
	return broker
}

func NewBroker(history int) *Broker {
	if history < 0 {
		history = 0
	}
	return &Broker{
		subscribers: make(map[string][]chan []byte),
		cache:       make(map[string][][]byte),
		history:     history,
	}
}

func ScoreboardTopic(contestID string) string {
	return fmt.Sprintf("scoreboard:%s", contestID)
}

func BalloonTopic(contestID string) string {
	return fmt.Sprintf("balloons:%s", contestID)
}

// Subscribe subscribes to a topic. The cached history is queued first, then
// live messages follow.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()
	history := b.cache[topic]
	ch := make(chan []byte, len(history)+128)
	for _, msg := range history {
		ch <- msg
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subscribers[topic]
			for i, sub := range subscribers {
				if sub == ch {
					b.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
					close(ch)
					break
				}
			}
			zap.S().Debugf("unsubscribed from topic %s", topic)
		})
	}

	zap.S().Debugf("new subscription to topic %s, sent %d cached messages", topic, len(history))
	return ch, unsubscribe
}

// Publish publishes a message to all subscribers of a topic and caches it.
func (b *Broker) Publish(topic string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.history > 0 {
		cached := append(b.cache[topic], msg)
		if len(cached) > b.history {
			cached = append([][]byte(nil), cached[len(cached)-b.history:]...)
		}
		b.cache[topic] = cached
	}

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribers returns the number of live subscribers of a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// CloseTopic closes all subscriber channels and clears the cache for a given topic.
func (b *Broker) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers[topic] {
		close(ch)
	}
	delete(b.subscribers, topic)
	delete(b.cache, topic)
	zap.S().Infof("closed pubsub topic %s and cleared cache", topic)
}

// FormatMessage wraps data as a stream message. data is marshalled to JSON.
func FormatMessage(streamType string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return []byte(`{"stream": "error", "data": "json format error"}`)
	}
	bytes, err := json.Marshal(WsMessage{Stream: streamType, Data: raw})
	if err != nil {
		return []byte(`{"stream": "error", "data": "json format error"}`)
	}
	return bytes
}
