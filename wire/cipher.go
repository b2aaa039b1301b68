package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize = 32

	kdfIterations = 100000
	saltSize      = 16

	otpAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrDecryption is returned when a ciphertext cannot be decrypted with the
// current key, either because it was produced under a different key or
// because it has been altered.
var ErrDecryption = errors.New("wire: decryption failed")

// Cipher encrypts and decrypts byte payloads with a symmetric key.
// Encryption is authenticated and non-deterministic: a fresh nonce is drawn
// for every call, so identical plaintexts yield distinct ciphertexts.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a KeySize-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.New("wire: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under the cipher's key. The nonce is prepended to
// the returned ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It returns ErrDecryption
// if the ciphertext was sealed under a different key or has been tampered
// with.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, ErrDecryption
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKey derives a symmetric key from a password with
// PBKDF2-HMAC-SHA256. If salt is nil a random 16-byte salt is drawn. The
// key and the salt actually used are returned; the caller must keep the
// salt to derive the same key again.
func DeriveKey(password string, salt []byte) (key, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, err
		}
	}
	key = pbkdf2.Key([]byte(password), salt, kdfIterations, KeySize, sha256.New)
	return key, salt, nil
}

// GenerateOTP returns a one-time password of the given length, drawn
// uniformly from uppercase letters and digits using crypto/rand.
func GenerateOTP(length int) (string, error) {
	max := big.NewInt(int64(len(otpAlphabet)))
	otp := make([]byte, length)
	for i := range otp {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		otp[i] = otpAlphabet[n.Int64()]
	}
	return string(otp), nil
}
