package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// envelope wraps a stored value with its key and checksum so a backend can
// detect truncated or tampered entries.
type envelope struct {
	Key       string    `json:"key"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   []byte    `json:"payload"`
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func seal(key string, payload []byte, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Key:       key,
		Checksum:  checksum(payload),
		CreatedAt: now.UTC(),
		Payload:   payload,
	})
}

// open validates raw and returns its payload.
func open(key string, raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}

	if env.Key != key {
		return nil, fmt.Errorf("%w: %s: stored under %q", ErrCorrupt, key, env.Key)
	}

	if checksum(env.Payload) != env.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, key)
	}

	return &env, nil
}

func (e *envelope) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}
