package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"procresolver/internal/logger"
	"procresolver/internal/store"
	"procresolver/pkg/models"
)

var log = logger.Named("redisstore")

// Reader implements store.Reader over the Redis layout.
type Reader struct {
	client *redis.Client
	keys   keys
}

// NewReader connects and pings Redis.
func NewReader(cfg Config) (*Reader, error) {
	cfg = cfg.normalized()
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis event store: %w", err)
	}
	return &Reader{client: client, keys: keys{prefix: cfg.KeyPrefix}}, nil
}

// Lifecycle implements store.Reader.
func (r *Reader) Lifecycle(ctx context.Context, ids []models.EntityID, limit int) (map[models.EntityID][]models.Event, error) {
	if len(ids) == 0 {
		return map[models.EntityID][]models.Event{}, nil
	}
	pipe := r.client.Pipeline()
	ranges := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		ranges[i] = pipe.ZRangeByLex(ctx, r.keys.lifecycle(id), &redis.ZRangeBy{Min: "-", Max: "+", Count: int64(limit)})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read lifecycle index: %w", err)
	}

	pipe = r.client.Pipeline()
	data := make(map[models.EntityID]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		fields := eventIDs(ranges[i].Val())
		if len(fields) == 0 {
			continue
		}
		data[id] = pipe.HMGet(ctx, r.keys.eventData(id), fields...)
	}
	if len(data) == 0 {
		return map[models.EntityID][]models.Event{}, nil
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read lifecycle events: %w", err)
	}

	out := make(map[models.EntityID][]models.Event, len(data))
	for id, cmd := range data {
		if evs := decodeEvents(id, cmd.Val()); len(evs) > 0 {
			out[id] = evs
		}
	}
	return out, nil
}

// Children implements store.Reader.
func (r *Reader) Children(ctx context.Context, q store.ChildrenQuery) ([]models.ChildRef, error) {
	lo, hi := lexRange(q.After, q.Since, q.Until)
	members, err := r.client.ZRangeByLex(ctx, r.keys.children(q.Parent), &redis.ZRangeBy{
		Min:   lo,
		Max:   hi,
		Count: int64(q.Limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read children of %s: %w", q.Parent, err)
	}
	out := make([]models.ChildRef, 0, len(members))
	for _, m := range members {
		key, ok := memberID(m)
		if !ok {
			log.Warnf("Skipping malformed child member %q under %s", m, q.Parent)
			continue
		}
		out = append(out, models.ChildRef{EntityID: models.EntityID(key.ID), Key: key})
	}
	return out, nil
}

// Events implements store.Reader.
func (r *Reader) Events(ctx context.Context, q store.RangeQuery) ([]models.Event, error) {
	lo, hi := lexRange(q.After, q.From, q.To)
	members, err := r.client.ZRangeByLex(ctx, r.keys.events(q.EntityID), &redis.ZRangeBy{Min: lo, Max: hi, Count: int64(q.Limit)}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read events of %s: %w", q.EntityID, err)
	}
	fields := eventIDs(members)
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, r.keys.eventData(q.EntityID), fields...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read event data of %s: %w", q.EntityID, err)
	}
	return decodeEvents(q.EntityID, vals), nil
}

// Alerts implements store.Reader.
func (r *Reader) Alerts(ctx context.Context, q store.RangeQuery) ([]models.Alert, error) {
	lo, hi := lexRange(q.After, q.From, q.To)
	members, err := r.client.ZRangeByLex(ctx, r.keys.alerts(q.EntityID), &redis.ZRangeBy{Min: lo, Max: hi, Count: int64(q.Limit)}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read alerts of %s: %w", q.EntityID, err)
	}
	fields := eventIDs(members)
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, r.keys.alertData(), fields...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read alert data: %w", err)
	}
	out := make([]models.Alert, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var a models.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			log.Warnf("Skipping undecodable alert for %s: %v", q.EntityID, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Close closes Redis resources.
func (r *Reader) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func eventIDs(members []string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if key, ok := memberID(m); ok {
			out = append(out, key.ID)
		}
	}
	return out
}

func decodeEvents(id models.EntityID, vals []interface{}) []models.Event {
	out := make([]models.Event, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Warnf("Skipping undecodable event for %s: %v", id, err)
			continue
		}
		out = append(out, ev)
	}
	return out
}
