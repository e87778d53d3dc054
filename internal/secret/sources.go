package secret

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the keyring service every grcgate credential lives under
const KeyringService = "grcgate"

// ErrNotFound is returned when a source has no value for a name
var ErrNotFound = errors.New("secret not found")

// Source looks up credential values by name
type Source interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// WritableSource is a Source operators can provision credentials into
type WritableSource interface {
	Source
	Store(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// EnvSource reads environment variables; empty counts as missing
type EnvSource struct{}

func (EnvSource) Lookup(_ context.Context, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %s: %w", name, ErrNotFound)
}

// KeyringSource reads and writes the OS keyring (Keychain, Secret Service, WinCred)
type KeyringSource struct {
	Service string
}

// NewKeyringSource returns a source bound to KeyringService
func NewKeyringSource() *KeyringSource {
	return &KeyringSource{Service: KeyringService}
}

func (k *KeyringSource) Lookup(_ context.Context, name string) (string, error) {
	v, err := keyring.Get(k.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring entry %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keyring entry %s: %w", name, err)
	}
	return v, nil
}

func (k *KeyringSource) Store(_ context.Context, name, value string) error {
	if err := keyring.Set(k.Service, name, value); err != nil {
		return fmt.Errorf("store keyring entry %s: %w", name, err)
	}
	return nil
}

func (k *KeyringSource) Delete(_ context.Context, name string) error {
	err := keyring.Delete(k.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring entry %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete keyring entry %s: %w", name, err)
	}
	return nil
}
