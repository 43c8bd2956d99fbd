package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"procresolver/pkg/models"
)

// linkChild indexes a child under the parent named by its earliest creation
// event. The parents hash holds "<parent>|<member>" per child; a creation event
// with a smaller member (earlier time) moves the child to its parent.
//
// KEYS[1] parents hash, KEYS[2] children zset of ARGV[2]
// ARGV[1] child, ARGV[2] parent, ARGV[3] member, ARGV[4] children key prefix
var linkChild = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if cur then
  local sep = string.find(cur, "|", 1, true)
  local oldParent = string.sub(cur, 1, sep - 1)
  local oldMember = string.sub(cur, sep + 1)
  if ARGV[3] >= oldMember then
    return 0
  end
  redis.call("ZREM", ARGV[4] .. oldParent, oldMember)
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2] .. "|" .. ARGV[3])
redis.call("ZADD", KEYS[2], 0, ARGV[3])
return 1
`)

// IndexWriter maintains the Redis layout from ingested events and alerts.
type IndexWriter struct {
	client *redis.Client
	keys   keys
}

// NewIndexWriter connects and pings Redis.
func NewIndexWriter(cfg Config) (*IndexWriter, error) {
	cfg = cfg.normalized()
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis event store: %w", err)
	}
	return &IndexWriter{client: client, keys: keys{prefix: cfg.KeyPrefix}}, nil
}

// WriteEvents indexes a batch of events.
func (w *IndexWriter) WriteEvents(events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx := context.Background()
	pipe := w.client.Pipeline()

	var links []*models.Event
	for _, ev := range events {
		if ev == nil || ev.EntityID == "" || ev.EventID == "" {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		member := ev.Key().Encode()
		pipe.HSet(ctx, w.keys.eventData(ev.EntityID), ev.EventID, payload)
		pipe.ZAdd(ctx, w.keys.events(ev.EntityID), redis.Z{Score: 0, Member: member})
		if ev.IsLifecycle() {
			pipe.ZAdd(ctx, w.keys.lifecycle(ev.EntityID), redis.Z{Score: 0, Member: member})
		}
		if ev.IsCreation() && ev.ParentEntityID != "" {
			links = append(links, ev)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update event index: %w", err)
	}

	for _, ev := range links {
		child := models.KeyFor(ev.Timestamp, string(ev.EntityID)).Encode()
		err := linkChild.Run(ctx, w.client,
			[]string{w.keys.parents(), w.keys.children(ev.ParentEntityID)},
			string(ev.EntityID), string(ev.ParentEntityID), child, w.keys.children(""),
		).Err()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("link %s under %s: %w", ev.EntityID, ev.ParentEntityID, err)
		}
	}
	return nil
}

// WriteAlerts indexes alerts under every referenced entity.
func (w *IndexWriter) WriteAlerts(alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	ctx := context.Background()
	pipe := w.client.Pipeline()
	for _, a := range alerts {
		if a == nil || a.AlertID == "" || len(a.EntityIDs) == 0 {
			continue
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.AlertID, err)
		}
		pipe.HSet(ctx, w.keys.alertData(), a.AlertID, payload)
		member := a.Key().Encode()
		for _, id := range a.EntityIDs {
			pipe.ZAdd(ctx, w.keys.alerts(id), redis.Z{Score: 0, Member: member})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update alert index: %w", err)
	}
	return nil
}

// Close closes Redis resources. It is safe to call more than once.
func (w *IndexWriter) Close() error {
	if w == nil || w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}
