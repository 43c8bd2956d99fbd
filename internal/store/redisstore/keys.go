// Package redisstore reads and writes the resolver's Redis layout:
//
//	<prefix>:events:<entity>     ZSET (lex)  <ms>|<event_id> for every event
//	<prefix>:lifecycle:<entity>  ZSET (lex)  <ms>|<event_id> for process events
//	<prefix>:eventdata:<entity>  HASH        event_id -> event JSON
//	<prefix>:children:<parent>   ZSET (lex)  <ms>|<child entity> by creation
//	<prefix>:parent              HASH        child entity -> parent entity
//	<prefix>:alerts:<entity>     ZSET (lex)  <ms>|<alert_id>
//	<prefix>:alertdata           HASH        alert_id -> alert JSON
//
// All members share score 0 so ZRANGEBYLEX yields (time, id) order.
package redisstore

import (
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"procresolver/pkg/models"
)

// Config configures Redis access.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(c.KeyPrefix) == "" {
		c.KeyPrefix = "procresolver"
	}
	c.KeyPrefix = strings.TrimSpace(c.KeyPrefix)
	return c
}

func newClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

type keys struct {
	prefix string
}

func (k keys) events(id models.EntityID) string    { return k.prefix + ":events:" + string(id) }
func (k keys) lifecycle(id models.EntityID) string { return k.prefix + ":lifecycle:" + string(id) }
func (k keys) eventData(id models.EntityID) string { return k.prefix + ":eventdata:" + string(id) }
func (k keys) children(id models.EntityID) string  { return k.prefix + ":children:" + string(id) }
func (k keys) parents() string                     { return k.prefix + ":parent" }
func (k keys) alerts(id models.EntityID) string    { return k.prefix + ":alerts:" + string(id) }
func (k keys) alertData() string                   { return k.prefix + ":alertdata" }

// lexRange converts an exclusive lower key and an inclusive time window into
// ZRANGEBYLEX bounds.
func lexRange(after *models.SortKey, from, to time.Time) (string, string) {
	lo := "-"
	if !from.IsZero() {
		lo = "[" + models.EncodeMillis(from.UnixMilli())
	}
	if after != nil && (from.IsZero() || after.Millis >= from.UnixMilli()) {
		lo = "(" + after.Encode()
	}
	hi := "+"
	if !to.IsZero() {
		hi = "(" + models.EncodeMillis(to.UnixMilli()+1)
	}
	return lo, hi
}

func memberID(member string) (models.SortKey, bool) {
	key, err := models.DecodeSortKey(member)
	if err != nil {
		return models.SortKey{}, false
	}
	return key, true
}
