// Package progress carries per-document status updates to whoever renders a
// progress stream: Redis subscribers, an in-process channel, or a callback.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Update is one lifecycle transition of one document.
type Update struct {
	ProjectID  string    `json:"projectId"`
	DocumentID string    `json:"documentId,omitempty"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher receives updates. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// Nop discards updates.
type Nop struct{}

func (Nop) Publish(context.Context, Update) error { return nil }

// Func adapts a function to Publisher.
type Func func(ctx context.Context, u Update) error

func (f Func) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

// Multi fans an update out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, u Update) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, u); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Publish(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Statuses returns the ordered statuses seen for one document.
func (r *Recorder) Statuses(documentID string) []string {
	var out []string
	for _, u := range r.Updates() {
		if u.DocumentID == documentID {
			out = append(out, u.Status)
		}
	}
	return out
}

const statusTTL = 24 * time.Hour

// RedisPublisher publishes each update on the project channel and keeps the
// latest status per document in a hash so late subscribers can catch up.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func ChannelName(projectID string) string { return fmt.Sprintf("ingest:progress:%s", projectID) }

func statusKey(projectID string) string { return fmt.Sprintf("ingest:status:%s", projectID) }

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, ChannelName(u.ProjectID), data)
	if u.DocumentID != "" {
		pipe.HSet(ctx, statusKey(u.ProjectID), u.DocumentID, data)
		pipe.Expire(ctx, statusKey(u.ProjectID), statusTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Latest returns the most recent update per document for a project.
func (p *RedisPublisher) Latest(ctx context.Context, projectID string) (map[string]Update, error) {
	raw, err := p.client.HGetAll(ctx, statusKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read statuses: %w", err)
	}
	out := make(map[string]Update, len(raw))
	for id, data := range raw {
		var u Update
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal update for %s: %w", id, err)
		}
		out[id] = u
	}
	return out, nil
}

// Subscribe streams updates for a project until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, projectID string) (<-chan Update, error) {
	sub := p.client.Subscribe(ctx, ChannelName(projectID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	out := make(chan Update)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var u Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
