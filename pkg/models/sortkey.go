package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SortKey totally orders records of one kind: event time first, id second.
type SortKey struct {
	Millis int64  `json:"t"`
	ID     string `json:"id"`
}

// KeyFor builds the sort key of a record stamped at ts.
func KeyFor(ts time.Time, id string) SortKey {
	return SortKey{Millis: ts.UnixMilli(), ID: id}
}

// Less reports whether k orders before other.
func (k SortKey) Less(other SortKey) bool {
	if k.Millis != other.Millis {
		return k.Millis < other.Millis
	}
	return k.ID < other.ID
}

// After reports whether k orders strictly after other; a nil other precedes everything.
func (k SortKey) After(other *SortKey) bool {
	if other == nil {
		return true
	}
	return other.Less(k)
}

// Encode renders the key so that byte order equals key order.
func (k SortKey) Encode() string {
	return EncodeMillis(k.Millis) + "|" + k.ID
}

// EncodeMillis renders a millisecond timestamp as a fixed-width prefix.
func EncodeMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%020d", ms)
}

// DecodeSortKey parses an encoded key.
func DecodeSortKey(raw string) (SortKey, error) {
	ts, id, ok := strings.Cut(raw, "|")
	if !ok || id == "" {
		return SortKey{}, fmt.Errorf("malformed sort key %q", raw)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SortKey{}, fmt.Errorf("malformed sort key %q: %w", raw, err)
	}
	return SortKey{Millis: ms, ID: id}, nil
}

// Time returns the key's timestamp in UTC.
func (k SortKey) Time() time.Time {
	return time.UnixMilli(k.Millis).UTC()
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
