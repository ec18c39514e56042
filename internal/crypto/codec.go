package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	keyLength   = 32 // 256 bits
	nonceLength = 16 // 128 bits
	tagLength   = 16 // 128 bits
)

// additionalData binds every ciphertext to the lab-data context.
var additionalData = []byte("labdata")

// ErrInvalidKey is returned by NewCodec when the configured key does not
// decode to exactly 32 bytes. It is fatal at startup.
var ErrInvalidKey = fmt.Errorf("encryption key must be exactly %d bytes (%d hex characters)", keyLength, keyLength*2)

// DecryptError reports a payload that could not be decrypted, either
// because the encoding is structurally invalid or because the
// authentication tag did not verify.
type DecryptError struct {
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return "decrypt lab data: " + e.Reason + ": " + e.Err.Error()
	}
	return "decrypt lab data: " + e.Reason
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Codec performs authenticated symmetric encryption of extracted lab
// data for at-rest storage. The persisted encoding is three
// colon-separated hex segments: nonce, authentication tag, ciphertext.
// The format matches records written by earlier versions of the
// service, so previously stored results stay readable.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a hex-encoded 256-bit key.
func NewCodec(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(key) != keyLength {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceLength)
	if err != nil {
		return nil, err
	}

	return &Codec{aead: aead}, nil
}

// Encrypt serializes the payload and seals it under a fresh random
// nonce. Nonce reuse with the same key breaks GCM, so the nonce is
// always generated here and never supplied by the caller.
func (c *Codec) Encrypt(payload map[string]interface{}) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize lab data: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, additionalData)

	// Seal appends the tag to the ciphertext; split it back out so the
	// stored encoding stays nonce:tag:ciphertext.
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Callers on the read path should treat a
// *DecryptError as recoverable: substitute an empty payload and keep
// serving the record's non-sensitive fields.
func (c *Codec) Decrypt(encoded string) (map[string]interface{}, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return nil, &DecryptError{Reason: "invalid encrypted data format"}
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLength {
		return nil, &DecryptError{Reason: "invalid nonce segment", Err: err}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return nil, &DecryptError{Reason: "invalid tag segment", Err: err}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, &DecryptError{Reason: "invalid ciphertext segment", Err: err}
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ciphertext, tag...), additionalData)
	if err != nil {
		return nil, &DecryptError{Reason: "authentication failed", Err: err}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, &DecryptError{Reason: "invalid payload", Err: err}
	}
	return payload, nil
}

// IsDecryptError reports whether err is a recoverable decryption failure.
func IsDecryptError(err error) bool {
	var de *DecryptError
	return errors.As(err, &de)
}

// GenerateKey returns a fresh hex-encoded 256-bit key, for setup and
// key rotation tooling.
func GenerateKey() (string, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
