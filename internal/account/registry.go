package account

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexjbarnes/oidcd/internal/oidcerr"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

// Registry owns the loaded accounts, keyed by shortname. Secret fields of
// stored records are sealed: under a per-process random key between
// operations, or under a password-derived key while the registry is
// locked (in which case no sealer is held and nothing can be decrypted
// until unlock).
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*Account

	// sealer protects secrets at rest between operations. nil while
	// locked.
	sealer   *Sealer
	locked   bool
	lockSalt []byte
}

// NewRegistry creates an empty registry with a fresh process sealing key.
func NewRegistry() (*Registry, error) {
	sealer, err := NewRandomSealer()
	if err != nil {
		return nil, err
	}
	return &Registry{
		accounts: make(map[string]*Account),
		sealer:   sealer,
	}, nil
}

// secretFields enumerates the fields that are sealed at rest.
func secretFields(a *Account) []**secret.Secret {
	return []**secret.Secret{
		&a.ClientSecret,
		&a.RefreshToken,
		&a.AccessToken,
		&a.Password,
		&a.CodeVerifier,
	}
}

// sealWith replaces every secret field of a with its sealed form,
// wiping the plaintext buffers.
func sealWith(s *Sealer, a *Account) error {
	for _, f := range secretFields(a) {
		if (*f).IsEmpty() {
			continue
		}
		sealed, err := s.Seal((*f).Bytes())
		if err != nil {
			return err
		}
		(*f).Wipe()
		*f = secret.New(sealed)
	}
	return nil
}

// openWith replaces every sealed field of a with its plaintext form.
func openWith(s *Sealer, a *Account) error {
	for _, f := range secretFields(a) {
		if (*f).IsEmpty() {
			continue
		}
		plain, err := s.Open((*f).Bytes())
		if err != nil {
			return err
		}
		(*f).Wipe()
		*f = secret.New(plain)
	}
	return nil
}

// Insert stores a, sealing its secret fields. An existing record with the
// same shortname is atomically replaced and its secrets wiped. The
// registry takes ownership of a.
func (r *Registry) Insert(a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return oidcerr.ErrAgentLocked
	}
	if err := sealWith(r.sealer, a); err != nil {
		return fmt.Errorf("%w: sealing account: %v", oidcerr.ErrInternal, err)
	}
	if old, ok := r.accounts[a.Shortname]; ok {
		old.Wipe()
	}
	r.accounts[a.Shortname] = a
	return nil
}

// Get returns a decrypted working copy of the named account. The caller
// commits changes by re-inserting the copy and must wipe it otherwise.
func (r *Registry) Get(name string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return nil, oidcerr.ErrAgentLocked
	}
	stored, ok := r.accounts[name]
	if !ok {
		return nil, oidcerr.ErrAccountNotLoaded
	}
	return r.openCopy(stored)
}

// GetByState returns a decrypted copy of the account with an in-flight
// code flow using state. Linear scan; in-flight states are few.
func (r *Registry) GetByState(state string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return nil, oidcerr.ErrAgentLocked
	}
	for _, stored := range r.accounts {
		if stored.UsedState != "" && stored.UsedState == state {
			return r.openCopy(stored)
		}
	}
	return nil, oidcerr.ErrAccountNotLoaded
}

func (r *Registry) openCopy(stored *Account) (*Account, error) {
	c := stored.Clone()
	if err := openWith(r.sealer, c); err != nil {
		c.Wipe()
		return nil, fmt.Errorf("%w: unsealing account: %v", oidcerr.ErrInternal, err)
	}
	return c, nil
}

// Contains reports whether a record with the given shortname is loaded.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[name]
	return ok
}

// SetDeath updates the expiry of a loaded record without touching its
// sealed secrets. Returns false if the record is not loaded.
func (r *Registry) SetDeath(name string, death int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[name]
	if !ok {
		return false
	}
	stored.Death = death
	return true
}

// Remove unloads the named account, wiping its secrets.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[name]
	if !ok {
		return false
	}
	stored.Wipe()
	delete(r.accounts, name)
	return true
}

// RemoveAll unloads every account, wiping all secrets.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, stored := range r.accounts {
		stored.Wipe()
		delete(r.accounts, name)
	}
}

// Reap evicts every record whose death is set and has passed. Returns the
// evicted shortnames.
func (r *Registry) Reap(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for name, stored := range r.accounts {
		if stored.Death > 0 && stored.Death <= now.Unix() {
			stored.Wipe()
			delete(r.accounts, name)
			reaped = append(reaped, name)
		}
	}
	return reaped
}

// Names returns the loaded shortnames, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded accounts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// Locked reports whether the registry is locked.
func (r *Registry) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// Lock reseals every secret field under a key derived from password and
// drops the process sealer, leaving nothing in memory that can decrypt
// the records. Neither the password nor the derived key is retained.
func (r *Registry) Lock(password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return oidcerr.ErrAgentLocked
	}

	salt, err := NewSalt()
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}
	key, err := DeriveKey(password, salt)
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}
	pwSealer, err := NewSealer(key) // wipes key
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}

	for _, stored := range r.accounts {
		if err := r.reseal(stored, r.sealer, pwSealer); err != nil {
			return err
		}
	}

	r.sealer = nil
	r.locked = true
	r.lockSalt = salt
	return nil
}

// Unlock re-derives the lock key and reseals every record under a fresh
// process key. A wrong password fails AEAD authentication on the first
// field tried; the registry then stays locked with its blobs untouched.
func (r *Registry) Unlock(password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.locked {
		return fmt.Errorf("%w: agent is not locked", oidcerr.ErrBadRequest)
	}

	key, err := DeriveKey(password, r.lockSalt)
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}
	pwSealer, err := NewSealer(key)
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}

	// Verify the password against every sealed field before mutating
	// anything.
	for _, stored := range r.accounts {
		for _, f := range secretFields(stored) {
			if (*f).IsEmpty() {
				continue
			}
			plain, err := pwSealer.Open((*f).Bytes())
			if err != nil {
				return oidcerr.ErrBadPassword
			}
			secret.Zero(plain)
		}
	}

	fresh, err := NewRandomSealer()
	if err != nil {
		return fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}
	for _, stored := range r.accounts {
		if err := r.reseal(stored, pwSealer, fresh); err != nil {
			return err
		}
	}

	r.sealer = fresh
	r.locked = false
	r.lockSalt = nil
	return nil
}

// reseal moves every secret field of stored from one sealer to another.
func (r *Registry) reseal(stored *Account, from, to *Sealer) error {
	for _, f := range secretFields(stored) {
		if (*f).IsEmpty() {
			continue
		}
		plain, err := from.Open((*f).Bytes())
		if err != nil {
			return fmt.Errorf("%w: resealing account: %v", oidcerr.ErrInternal, err)
		}
		sealed, err := to.Seal(plain)
		secret.Zero(plain)
		if err != nil {
			return fmt.Errorf("%w: resealing account: %v", oidcerr.ErrInternal, err)
		}
		(*f).Wipe()
		*f = secret.New(sealed)
	}
	return nil
}
