package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

// SealedBlockType is the PEM block type of a sealed private key.
const SealedBlockType = "AUTHKEEPER SEALED PRIVATE KEY"

var ErrNotSealed = errors.New("pem block is not sealed")

// DeriveKey derives a 32-byte AES key from secret and salt with Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// SealPEM encrypts plaintext (a PEM-encoded private key) with AES-256-GCM
// under a key derived from secret, and wraps the result in a PEM block whose
// headers carry the salt and nonce.
func SealPEM(plaintext, secret []byte) ([]byte, error) {
	salt, err := common.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	key := DeriveKey(secret, salt)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := common.RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	block := &pem.Block{
		Type: SealedBlockType,
		Headers: map[string]string{
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, plaintext, []byte(SealedBlockType)),
	}
	return pem.EncodeToMemory(block), nil
}

// IsSealed reports whether data holds a sealed PEM block.
func IsSealed(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil && block.Type == SealedBlockType
}

// OpenPEM reverses SealPEM.
func OpenPEM(sealed, secret []byte) ([]byte, error) {
	block, _ := pem.Decode(sealed)
	if block == nil || block.Type != SealedBlockType {
		return nil, ErrNotSealed
	}
	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil {
		return nil, fmt.Errorf("salt header: %w", err)
	}
	nonce, err := hex.DecodeString(block.Headers["Nonce"])
	if err != nil {
		return nil, fmt.Errorf("nonce header: %w", err)
	}

	key := DeriveKey(secret, salt)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce size %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, block.Bytes, []byte(SealedBlockType))
	if err != nil {
		return nil, fmt.Errorf("open sealed key: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
