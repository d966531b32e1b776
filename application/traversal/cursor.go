package traversal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	pkgerrors "instancegraph/pkg/errors"
)

// CursorMap maps step names to opaque resume tokens. A nil or empty map starts
// a traversal; a non-empty map whose tokens are all nil is exhausted.
type CursorMap map[string]*string

// Exhausted reports whether the map marks a finished traversal
func (m CursorMap) Exhausted() bool {
	if len(m) == 0 {
		return false
	}
	for _, token := range m {
		if token != nil {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (m CursorMap) Clone() CursorMap {
	if m == nil {
		return nil
	}
	out := make(CursorMap, len(m))
	for k, v := range m {
		if v != nil {
			token := *v
			out[k] = &token
		} else {
			out[k] = nil
		}
	}
	return out
}

// position addresses a point in a step's listing: the join chunk and the
// store cursor within it. A nil Cursor is the start of the chunk.
type position struct {
	Chunk  int     `json:"c,omitempty"`
	Cursor *string `json:"s,omitempty"`
}

// stepToken is the decoded per-step resume state: the position that produced
// the step's current page and the position after it. A nil Page is the start
// of the listing. Replaying Page is idempotent because store cursors address
// absolute positions and a replayed parent page yields the same join chunks.
type stepToken struct {
	Page *position `json:"p,omitempty"`
	Next *position `json:"n,omitempty"`
}

func (t *stepToken) pending() bool {
	return t != nil && t.Next != nil
}

func encodeToken(t stepToken) (*string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	s := base64.RawURLEncoding.EncodeToString(data)
	return &s, nil
}

func decodeToken(step string, token *string) (*stepToken, error) {
	if token == nil {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(*token)
	if err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("malformed cursor for step %q", step)).WithCause(err)
	}
	var t stepToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("malformed cursor for step %q", step)).WithCause(err)
	}
	return &t, nil
}
