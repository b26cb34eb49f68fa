// Package credential resolves the API key used for generation calls and gates the
// application until a usable key is selected.
package credential

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

var (
	// ErrCredentialMissing is returned when a generation call is attempted without a selected key.
	ErrCredentialMissing = errors.New("credential missing: no API key selected")
	// ErrEntityNotFound is returned by a selection flow when the chosen key is expired or invalid.
	ErrEntityNotFound = errors.New("requested entity was not found")
)

// Key is an API credential. The zero value means no key.
type Key string

// Empty reports whether no key is present.
func (k Key) Empty() bool { return strings.TrimSpace(string(k)) == "" }

// String redacts the key so it never ends up in logs.
func (k Key) String() string {
	if k.Empty() {
		return ""
	}
	return "***"
}

// Value returns the raw key for SDK clients.
func (k Key) Value() string { return string(k) }

// Provider is the credential capability the gate and the orchestrators depend on.
type Provider interface {
	// HasSelectedKey reports whether a usable key is currently selected.
	HasSelectedKey(ctx context.Context) (bool, error)
	// OpenSelectKey runs the selection flow. It returns ErrEntityNotFound when the key is expired or invalid.
	OpenSelectKey(ctx context.Context) error
	// Key returns the currently selected key, or ErrCredentialMissing.
	Key(ctx context.Context) (Key, error)
}

// Resolve fetches the current key from p. A nil provider or an empty key yields ErrCredentialMissing.
func Resolve(ctx context.Context, p Provider) (Key, error) {
	if p == nil {
		return "", ErrCredentialMissing
	}
	key, err := p.Key(ctx)
	if err != nil {
		return "", err
	}
	if key.Empty() {
		return "", ErrCredentialMissing
	}
	return key, nil
}

// EnvProvider reads the key from the environment on every call.
type EnvProvider struct {
	Name   string                // variable name, e.g. GEMINI_API_KEY
	Lookup func(string) string // defaults to os.Getenv
}

// NewEnvProvider returns a provider backed by the named environment variable.
func NewEnvProvider(name string) *EnvProvider {
	return &EnvProvider{Name: name, Lookup: os.Getenv}
}

func (p *EnvProvider) current() Key {
	lookup := p.Lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	return Key(lookup(p.Name))
}

// HasSelectedKey reports whether the variable holds a non-empty key.
func (p *EnvProvider) HasSelectedKey(ctx context.Context) (bool, error) {
	return !p.current().Empty(), nil
}

// OpenSelectKey succeeds when the variable is set; otherwise the key cannot be found.
func (p *EnvProvider) OpenSelectKey(ctx context.Context) error {
	if p.current().Empty() {
		return ErrEntityNotFound
	}
	return nil
}

// Key returns the key currently in the environment.
func (p *EnvProvider) Key(ctx context.Context) (Key, error) {
	key := p.current()
	if key.Empty() {
		return "", ErrCredentialMissing
	}
	return key, nil
}

// Verifier checks that a key is usable before it is selected.
type Verifier func(ctx context.Context, key Key) error

// KeyringProvider holds a key offered by the user for one session. Offer stages a key and
// OpenSelectKey promotes it to the selected key.
type KeyringProvider struct {
	mu       sync.RWMutex
	offered  Key
	selected Key
	verify   Verifier
}

// NewKeyringProvider returns an empty keyring. verify may be nil.
func NewKeyringProvider(verify Verifier) *KeyringProvider {
	return &KeyringProvider{verify: verify}
}

// Offer stages a key for the next OpenSelectKey call.
func (p *KeyringProvider) Offer(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offered = Key(strings.TrimSpace(string(key)))
}

// HasSelectedKey reports whether a key has been selected.
func (p *KeyringProvider) HasSelectedKey(ctx context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.selected.Empty(), nil
}

// OpenSelectKey selects the offered key. An empty offer, or one the verifier rejects with
// ErrEntityNotFound, clears the selection.
func (p *KeyringProvider) OpenSelectKey(ctx context.Context) error {
	p.mu.RLock()
	offered := p.offered
	p.mu.RUnlock()

	if offered.Empty() {
		p.clear()
		return ErrEntityNotFound
	}
	if p.verify != nil {
		if err := p.verify(ctx, offered); err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				p.clear()
			}
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = offered
	p.offered = ""
	return nil
}

// Key returns the selected key.
func (p *KeyringProvider) Key(ctx context.Context) (Key, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.selected.Empty() {
		return "", ErrCredentialMissing
	}
	return p.selected, nil
}

func (p *KeyringProvider) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = ""
	p.offered = ""
}
