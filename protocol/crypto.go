package protocol

import (
	"crypto/aes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// KeyLength is the exact length of the account key shown in the
	// vendor app, dashes included.
	KeyLength = 16

	// BlockSize is the AES block size payload ciphertexts must align to.
	BlockSize = aes.BlockSize
)

// keyPattern matches the account key format: 8, 4 and 2 hex characters
// joined by dashes, e.g. "12ab345c-d67e-8f".
var keyPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{2}$`)

// ValidateKey checks an account key against the vendor format. Keys are
// validated at construction time so a typo fails immediately, not on the
// first command.
func ValidateKey(key string) error {
	if len(key) != KeyLength {
		return fmt.Errorf("account key must be %d characters, got %d", KeyLength, len(key))
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("account key %q does not match the 12ab345c-d67e-8f format", key)
	}
	return nil
}

// DeriveSessionKey combines the account key and a gateway-issued token into
// the AES-128 session key: MD5 over the two concatenated. The gateway
// performs the same derivation independently, so there is no randomness and
// the same inputs always yield the same key.
func DeriveSessionKey(key, token string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("derive session key: empty token")
	}
	sum := md5.Sum([]byte(key + token))
	return sum[:], nil
}

// EncryptPayload encrypts a payload body under the session key: PKCS#7 pad
// to the AES block size, encrypt, hex encode uppercase for the data field.
func EncryptPayload(sessionKey, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	padded := pkcs7Pad(plaintext, BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += BlockSize {
		block.Encrypt(out[i:i+BlockSize], padded[i:i+BlockSize])
	}
	return strings.ToUpper(hex.EncodeToString(out)), nil
}

// DecryptPayload decrypts the hex encoded data field of an envelope.
// Input that is not hex, not a whole number of AES blocks, or carries
// invalid padding fails with ErrDecrypt rather than returning garbage.
func DecryptPayload(sessionKey []byte, data string) ([]byte, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data field is not hex: %v", ErrDecrypt, err)
	}
	if len(raw) == 0 || len(raw)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecrypt, len(raw), BlockSize)
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += BlockSize {
		block.Decrypt(out[i:i+BlockSize], raw[i:i+BlockSize])
	}
	return pkcs7Unpad(out)
}

// pkcs7Pad appends 1..BlockSize bytes, each holding the pad length.
func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// pkcs7Unpad validates and strips the padding written by pkcs7Pad.
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecrypt)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecrypt, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent padding bytes", ErrDecrypt)
		}
	}
	return data[:len(data)-n], nil
}
