// Package tokenstore persists the single OAuth2 token slot used to call the
// Drive API. Every backend stores the token as the JSON encoding of an
// oauth2.Token under a slot name. Load reports a missing slot as (nil, nil).
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// DefaultSlot is used when no slot name is configured.
const DefaultSlot = "default"

// ErrEmptyToken is returned by Save when the token carries no access token.
var ErrEmptyToken = errors.New("tokenstore: token has no access token")

// Store is a single-slot token store.
type Store interface {
	// Load returns the stored token, or (nil, nil) if the slot is empty.
	Load(ctx context.Context) (*oauth2.Token, error)
	// Save overwrites the slot.
	Save(ctx context.Context, tok *oauth2.Token) error
}

func encode(tok *oauth2.Token) ([]byte, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrEmptyToken
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tokenstore: encoding: %w", err)
	}
	return data, nil
}

func decode(data []byte, where string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("tokenstore: decoding %s: %w", where, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("tokenstore: %s has no access_token (re-consent required)", where)
	}
	return &tok, nil
}

func slotOrDefault(slot string) string {
	if slot == "" {
		return DefaultSlot
	}
	return slot
}

// MemoryStore keeps the token in process memory. It is safe for concurrent
// use and returns copies so callers cannot mutate the stored value.
type MemoryStore struct {
	mu  sync.RWMutex
	tok *oauth2.Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == nil {
		return nil, nil //nolint:nilnil // empty slot
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return ErrEmptyToken
	}
	cp := *tok
	s.mu.Lock()
	s.tok = &cp
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
