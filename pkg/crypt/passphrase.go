// ABOUTME: Encryptors for the transform envelope
// ABOUTME: Passphrase (Argon2id + XChaCha20-Poly1305) and Cloud KMS wrapped data keys

package crypt

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nainya/metastream/pkg/envelope"
)

var (
	// ErrEmptyKey is returned when an encryptor is built without key material
	ErrEmptyKey = errors.New("crypt: empty key material")

	// ErrCiphertext is returned for inputs too short to hold a sealed payload
	ErrCiphertext = errors.New("crypt: malformed ciphertext")

	// ErrAuthentication is returned when a payload fails authentication,
	// usually because the key or passphrase is wrong
	ErrAuthentication = errors.New("crypt: authentication failed")

	// ErrIntegrity is returned when a KMS response fails its checksum
	ErrIntegrity = errors.New("crypt: integrity check failed")
)

const saltSize = 16

var additionalData = []byte("metastream/v1")

// KDFParams are the Argon2id cost parameters
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF follows the RFC 9106 second recommended option
var DefaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// Passphrase derives a fresh key per payload from a passphrase and a random salt.
// Output layout is salt | nonce | ciphertext.
type Passphrase struct {
	pass []byte
	hint string
	kdf  KDFParams
}

var _ envelope.Encryptor = (*Passphrase)(nil)

// NewPassphrase creates a passphrase encryptor with the default cost
func NewPassphrase(pass, hint string) (*Passphrase, error) {
	return NewPassphraseWithKDF(pass, hint, DefaultKDF)
}

// NewPassphraseWithKDF creates a passphrase encryptor with explicit cost parameters.
// Readers must use the same parameters.
func NewPassphraseWithKDF(pass, hint string, kdf KDFParams) (*Passphrase, error) {
	if pass == "" {
		return nil, ErrEmptyKey
	}
	if kdf.Time == 0 || kdf.Memory == 0 || kdf.Threads == 0 {
		return nil, errors.Errorf("crypt: invalid KDF parameters %+v", kdf)
	}
	return &Passphrase{pass: []byte(pass), hint: hint, kdf: kdf}, nil
}

// Hint returns the label stored next to encrypted payloads
func (p *Passphrase) Hint() string { return p.hint }

func (p *Passphrase) key(salt []byte) []byte {
	return argon2.IDKey(p.pass, salt, p.kdf.Time, p.kdf.Memory, p.kdf.Threads, chacha20poly1305.KeySize)
}

// Encrypt seals data under a key derived from a new random salt
func (p *Passphrase) Encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "crypt: salt")
	}
	sealed, err := seal(p.key(salt), data)
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

// Decrypt opens a payload produced by Encrypt
func (p *Passphrase) Decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.Wrapf(ErrCiphertext, "%d bytes", len(data))
	}
	return open(p.key(data[:saltSize]), data[saltSize:])
}

// seal encrypts data with key and returns nonce | ciphertext
func seal(key, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypt: cipher")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "crypt: nonce")
	}
	return aead.Seal(nonce, nonce, data, additionalData), nil
}

// open reverses seal
func open(key, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypt: cipher")
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.Wrapf(ErrCiphertext, "%d bytes", len(data))
	}
	nonce, body := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, additionalData)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
