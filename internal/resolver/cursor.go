package resolver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"procresolver/pkg/models"
)

const cursorVersion = 1

// Cursor scopes. A cursor minted for one scope is rejected by the others.
const (
	scopeChildren = "children"
	scopeEvents   = "events"
	scopeAlerts   = "alerts"
)

type cursorEnvelope struct {
	V           int             `json:"v"`
	Scope       string          `json:"s"`
	Fingerprint string          `json:"f"`
	State       json.RawMessage `json:"st"`
}

// cursorCodec produces opaque tokens of the form payload.mac, both base64url.
type cursorCodec struct {
	secret []byte
}

func (c *cursorCodec) encode(scope, fp string, state any) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal cursor state: %w", err)
	}
	payload, err := json.Marshal(cursorEnvelope{V: cursorVersion, Scope: scope, Fingerprint: fp, State: raw})
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(c.sign(payload)), nil
}

func (c *cursorCodec) decode(token, scope, fp string, state any) error {
	body, mac, ok := strings.Cut(token, ".")
	if !ok {
		return fmt.Errorf("%w: malformed token", ErrInvalidCursor)
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(body)
	if err != nil {
		return fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}
	sig, err := enc.DecodeString(mac)
	if err != nil || !hmac.Equal(sig, c.sign(payload)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidCursor)
	}
	var env cursorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if env.V != cursorVersion || env.Scope != scope {
		return fmt.Errorf("%w: wrong cursor kind", ErrInvalidCursor)
	}
	if env.Fingerprint != fp {
		return fmt.Errorf("%w: cursor belongs to a different query", ErrInvalidCursor)
	}
	if err := json.Unmarshal(env.State, state); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return nil
}

func (c *cursorCodec) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(payload)
	return h.Sum(nil)
}

// fingerprint identifies the query a cursor was minted for. ids must be
// sorted and unique.
func fingerprint(scope string, ids []models.EntityID, pageSize int, window TimeRange) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d", scope, pageSize, unixMillis(window.From), unixMillis(window.To))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
