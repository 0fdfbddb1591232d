package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32
	// sealedKeyVersion is the sealed-key JSON schema version.
	sealedKeyVersion = 1
)

// sealedKey is the on-disk format for a password-sealed private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource carries the information ResolveKey needs to obtain a signing
// key, populated from the wallet section of the config file.
type KeySource struct {
	// RawPrivateKey is a hex-encoded private key, with or without 0x prefix.
	RawPrivateKey string
	// SealedKeyPath points to a JSON file produced by SealKey.
	SealedKeyPath string
	// Password decrypts the file at SealedKeyPath.
	Password string
}

// SealKey encrypts a hex private key under a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM, returning the JSON blob
// to write to disk.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := gcmForPassword(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := sealedKey{
		Version:    sealedKeyVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey, returning the hex-encoded
// private key without 0x prefix.
func OpenKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored sealedKey
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != sealedKeyVersion {
		return "", fmt.Errorf("crypto: unsupported sealed-key version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := gcmForPassword(password, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// ResolveKey obtains a private key from src: a raw key wins, then a sealed
// key file; otherwise an error.
func ResolveKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		k := strings.TrimPrefix(src.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}

	if src.SealedKeyPath != "" {
		blob, err := os.ReadFile(src.SealedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading sealed key file: %w", err)
		}
		return OpenKey(blob, src.Password)
	}

	return "", errors.New("crypto: no private key source configured")
}

func gcmForPassword(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
