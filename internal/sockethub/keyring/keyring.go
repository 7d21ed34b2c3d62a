// Package keyring holds the instance encryption key shared between the
// dispatcher and its workers, and seals session secrets with it.
//
// The key is kept in a memguard enclave and never leaves the process except
// through the ping protocol. Sealing uses AES-256-GCM under a key derived
// from the shared key with argon2id, salted by the instance id so every
// process of one instance derives the same sealing key.
package keyring

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
)

const (
	formatVersion = 0x01

	saltSize    = 16
	keySize     = 32
	nonceSize   = 12
	memory      = 64 * 1024 // 64 MB
	iterations  = 3
	parallelism = 4

	// version(1) + nonce(12) + GCM tag(16)
	minBlobSize = 1 + nonceSize + 16
)

// Keyring is safe for concurrent use. Concurrent Set, Replace and Clear
// calls are serialised, and the last one to run decides the state.
type Keyring struct {
	mu     sync.Mutex
	salt   []byte
	key    *memguard.Enclave // shared key as received
	sealer *memguard.Enclave // derived AES key, created on first use
	ready  chan struct{}     // closed while a key is held
}

func New(instanceID string) *Keyring {
	sum := sha256.Sum256([]byte("sockethub:" + instanceID))
	return &Keyring{
		salt:  sum[:saltSize],
		ready: make(chan struct{}),
	}
}

// Set adopts key if none is held and reports whether it did. A held key is
// never overwritten by Set.
func (k *Keyring) Set(key string) bool {
	if key == "" {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return false
	}
	k.adopt(key)
	return true
}

// Replace adopts key unconditionally.
func (k *Keyring) Replace(key string) {
	if key == "" {
		k.Clear()
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		k.drop()
	}
	k.adopt(key)
}

// Clear forgets the key. WaitForKey blocks again until a new key is set.
func (k *Keyring) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		k.drop()
	}
}

func (k *Keyring) adopt(key string) {
	k.key = memguard.NewEnclave([]byte(key))
	k.sealer = nil
	close(k.ready)
}

func (k *Keyring) drop() {
	k.key = nil
	k.sealer = nil
	k.ready = make(chan struct{})
}

func (k *Keyring) IsSet() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key != nil
}

// Reveal returns a copy of the held key.
func (k *Keyring) Reveal() (string, bool) {
	k.mu.Lock()
	enclave := k.key
	k.mu.Unlock()
	if enclave == nil {
		return "", false
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

// Matches compares key with the held key in constant time.
func (k *Keyring) Matches(key string) bool {
	k.mu.Lock()
	enclave := k.key
	k.mu.Unlock()
	if enclave == nil {
		return false
	}
	buf, err := enclave.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(key)) == 1
}

// WaitForKey blocks until a key is held or ctx is done.
func (k *Keyring) WaitForKey(ctx context.Context) error {
	k.mu.Lock()
	ready := k.ready
	k.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// aead returns the cipher for the current key, deriving the sealing key on
// first use after each adoption.
func (k *Keyring) aead() (cipher.AEAD, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return nil, ErrNoKey
	}
	if k.sealer == nil {
		buf, err := k.key.Open()
		if err != nil {
			return nil, ErrCipher.Err(err)
		}
		derived := argon2.IDKey(buf.Bytes(), k.salt, iterations, memory, uint8(parallelism), keySize)
		buf.Destroy()
		k.sealer = memguard.NewEnclave(derived)
	}
	buf, err := k.sealer.Open()
	if err != nil {
		return nil, ErrCipher.Err(err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return nil, ErrCipher.Err(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrCipher.Err(err)
	}
	return gcm, nil
}

// Seal encrypts plain. Format: [version(1B)][nonce(12B)][ciphertext(N)].
func (k *Keyring) Seal(plain []byte) ([]byte, error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ErrCipher.MsgErr("failed to generate nonce", err)
	}
	out := make([]byte, 0, 1+nonceSize+len(plain)+gcm.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, nil), nil
}

// Open decrypts a blob produced by Seal under the same key and instance id.
func (k *Keyring) Open(blob []byte) ([]byte, error) {
	if len(blob) < minBlobSize {
		return nil, ErrInvalidBlob.Msg("sealed blob too short")
	}
	if blob[0] != formatVersion {
		return nil, ErrInvalidBlob.Msg("unsupported sealed blob version")
	}
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := blob[1 : 1+nonceSize]
	plain, err := gcm.Open(nil, nonce, blob[1+nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt.Err(err)
	}
	return plain, nil
}
