// Package vault stores adapter API tokens encrypted at rest. Secrets are
// sealed with AES-256-GCM under a key derived from the master password via
// scrypt; ciphertext and the KDF salt live in SQLite so the vault survives
// restarts but never holds plaintext on disk.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

var (
	// ErrLocked is returned when the vault has not been unlocked.
	ErrLocked = errors.New("vault: locked")
	// ErrNotFound is returned for unknown secret names.
	ErrNotFound = errors.New("vault: secret not found")
	// ErrBadPassword is returned when the master password cannot open an
	// existing vault.
	ErrBadPassword = errors.New("vault: invalid master password")
)

// scrypt parameters. N=2^15 keeps unlock under ~100ms on current hardware
// while staying far above interactive brute-force cost.
const (
	scryptN     = 1 << 15
	scryptR     = 8
	scryptP     = 1
	keyLen      = 32
	saltLen     = 16
	canaryName  = "__canary"
	canaryPlain = "routehub-vault-v1"
	minimumPass = 8
)

// Vault provides encrypted credential storage with a lock/unlock lifecycle.
type Vault struct {
	enabled bool
	db      *sql.DB

	mu     sync.RWMutex
	locked bool
	salt   []byte
	key    []byte // derived key, in-memory only, cleared on lock
}

// New opens (or initializes) vault storage on db. A disabled vault accepts
// no secrets but keeps callers free of nil checks.
func New(db *sql.DB, enabled bool) (*Vault, error) {
	v := &Vault{enabled: enabled, db: db, locked: enabled}
	if !enabled {
		return v, nil
	}
	if err := v.migrate(); err != nil {
		return nil, err
	}
	salt, err := v.loadSalt()
	if err != nil {
		return nil, err
	}
	v.salt = salt
	return v, nil
}

func (v *Vault) migrate() error {
	_, err := v.db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS vault_secrets (
			name TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("vault migrate: %w", err)
	}
	return nil
}

func (v *Vault) loadSalt() ([]byte, error) {
	var salt []byte
	err := v.db.QueryRow(`SELECT salt FROM vault_meta WHERE id = 1`).Scan(&salt)
	if errors.Is(err, sql.ErrNoRows) {
		salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, err
		}
		if _, err := v.db.Exec(`INSERT INTO vault_meta (id, salt) VALUES (1, ?)`, salt); err != nil {
			return nil, fmt.Errorf("vault salt: %w", err)
		}
		return salt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault salt: %w", err)
	}
	return salt, nil
}

// Enabled reports whether the vault is in use at all.
func (v *Vault) Enabled() bool {
	return v.enabled
}

// IsLocked reports whether secrets are currently inaccessible.
func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enabled && v.locked
}

// Unlock derives the key from the master password and verifies it against
// the stored canary. A fresh vault writes its canary on first unlock.
func (v *Vault) Unlock(master []byte) error {
	if !v.enabled {
		return nil
	}
	if len(master) < minimumPass {
		return errors.New("vault: password too short")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	key, err := scrypt.Key(master, v.salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return err
	}
	v.key = key
	v.locked = false

	ct, err := v.loadSecret(canaryName)
	switch {
	case errors.Is(err, ErrNotFound):
		sealed, sealErr := v.seal([]byte(canaryPlain))
		if sealErr != nil {
			v.lockLocked()
			return sealErr
		}
		if storeErr := v.storeSecret(canaryName, sealed); storeErr != nil {
			v.lockLocked()
			return storeErr
		}
		return nil
	case err != nil:
		v.lockLocked()
		return err
	}

	plain, err := v.open(ct)
	if err != nil || string(plain) != canaryPlain {
		v.lockLocked()
		return ErrBadPassword
	}
	return nil
}

// Lock clears the derived key from memory.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

func (v *Vault) lockLocked() {
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	v.locked = true
}

// Set encrypts and persists a secret.
func (v *Vault) Set(name, value string) error {
	if !v.enabled {
		return errors.New("vault: disabled")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	sealed, err := v.seal([]byte(value))
	if err != nil {
		return err
	}
	return v.storeSecret(name, sealed)
}

// Get decrypts a secret.
func (v *Vault) Get(name string) (string, error) {
	if !v.enabled {
		return "", ErrNotFound
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.locked {
		return "", ErrLocked
	}
	ct, err := v.loadSecret(name)
	if err != nil {
		return "", err
	}
	plain, err := v.open(ct)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt %q: %w", name, err)
	}
	return string(plain), nil
}

// Delete removes a secret. Deleting an unknown name is not an error.
func (v *Vault) Delete(name string) error {
	if !v.enabled {
		return nil
	}
	_, err := v.db.Exec(`DELETE FROM vault_secrets WHERE name = ?`, name)
	return err
}

// List returns stored secret names sorted, without decrypting anything.
func (v *Vault) List() ([]string, error) {
	if !v.enabled {
		return nil, nil
	}
	rows, err := v.db.Query(`SELECT name FROM vault_secrets WHERE name != ?`, canaryName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (v *Vault) storeSecret(name string, ciphertext []byte) error {
	_, err := v.db.Exec(`
		INSERT INTO vault_secrets (name, ciphertext) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET ciphertext = excluded.ciphertext`,
		name, ciphertext)
	if err != nil {
		return fmt.Errorf("vault: store %q: %w", name, err)
	}
	return nil
}

func (v *Vault) loadSecret(name string) ([]byte, error) {
	var ct []byte
	err := v.db.QueryRow(`SELECT ciphertext FROM vault_secrets WHERE name = ?`, name).Scan(&ct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// seal encrypts plaintext as nonce||ciphertext. Callers hold the lock.
func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) open(ciphertext []byte) ([]byte, error) {
	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	if len(v.key) != keyLen {
		return nil, ErrLocked
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
