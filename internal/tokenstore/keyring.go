package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

// KeyringStore keeps the token in the OS credential store (macOS Keychain,
// Secret Service, Windows Credential Manager) under service/slot.
type KeyringStore struct {
	service string
	user    string
}

func NewKeyringStore(service, slot string) *KeyringStore {
	return &KeyringStore{service: service, user: slotOrDefault(slot)}
}

func (s *KeyringStore) Load(_ context.Context) (*oauth2.Token, error) {
	secret, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil //nolint:nilnil // empty slot
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s/%s: %w", s.service, s.user, err)
	}

	return decode([]byte(secret), "keyring "+s.service+"/"+s.user)
}

func (s *KeyringStore) Save(_ context.Context, tok *oauth2.Token) error {
	data, err := encode(tok)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, s.user, string(data)); err != nil {
		return fmt.Errorf("keyring set %s/%s: %w", s.service, s.user, err)
	}
	return nil
}

var _ Store = (*KeyringStore)(nil)
