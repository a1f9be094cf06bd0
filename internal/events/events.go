package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/redis/go-redis/v9"
)

const (
	eventChannelPrefix = "adsec:events:" // Pub/Sub channel for progress events: adsec:events:{assessment_id}
	subscriberBuffer   = 64
)

// Bus fans progress events out to subscribers of one assessment
type Bus interface {
	Publish(ctx context.Context, ev domain.ProgressEvent) error
	Subscribe(ctx context.Context, assessmentID string) (*Subscription, error)
}

// Subscription delivers events until Close is called or the subscribing
// context ends. C is closed afterwards.
type Subscription struct {
	C     <-chan domain.ProgressEvent
	close func() error
	once  sync.Once
}

// Close stops delivery
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.close() })
	return err
}

func channelName(assessmentID string) string {
	return eventChannelPrefix + assessmentID
}

// RedisBus publishes events on Redis Pub/Sub so every API instance can
// stream them.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a RedisBus
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(ev.AssessmentID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, assessmentID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, channelName(assessmentID))
	// wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan domain.ProgressEvent, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				default:
					// slow subscriber; it can reload the stored progress
				}
			}
		}
	}()

	return &Subscription{C: out, close: func() error {
		close(done)
		return ps.Close()
	}}, nil
}

// LocalBus is the in-process Bus used when Redis is not configured
type LocalBus struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.ProgressEvent]struct{}
}

// NewLocalBus creates a LocalBus
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[chan domain.ProgressEvent]struct{})}
}

func (b *LocalBus) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.AssessmentID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, assessmentID string) (*Subscription, error) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[assessmentID] == nil {
		b.subs[assessmentID] = make(map[chan domain.ProgressEvent]struct{})
	}
	b.subs[assessmentID][ch] = struct{}{}
	b.mu.Unlock()

	remove := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[assessmentID][ch]; ok {
			delete(b.subs[assessmentID], ch)
			if len(b.subs[assessmentID]) == 0 {
				delete(b.subs, assessmentID)
			}
			close(ch)
		}
		return nil
	}

	sub := &Subscription{C: ch, close: remove}
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}
