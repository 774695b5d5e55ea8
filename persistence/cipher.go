package persistence

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"gitlab.com/yawning/bsaes.git"
)

// Cipher optionally encrypts and decrypts a record's payload at rest. A
// nil Cipher leaves payloads in plaintext, the default.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// BlockCipher is the default at-rest Cipher: bsaes's constant-time
// software AES in CTR mode, so persisted samples stay encrypted even on
// hosts without AES-NI. Each call to Encrypt prefixes a fresh random IV
// to the returned ciphertext.
type BlockCipher struct {
	block cipher.Block
}

// NewBlockCipher builds a BlockCipher from a 16, 24, or 32-byte AES key.
func NewBlockCipher(key []byte) (*BlockCipher, error) {
	block, err := bsaes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("persistence: constructing at-rest cipher: %w", err)
	}
	return &BlockCipher{block: block}, nil
}

// Encrypt returns iv || ciphertext.
func (c *BlockCipher) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, c.block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("persistence: generating iv: %w", err)
	}
	out := make([]byte, len(iv)+len(plaintext))
	copy(out, iv)
	cipher.NewCTR(c.block, iv).XORKeyStream(out[len(iv):], plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *BlockCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(ciphertext) < bs {
		return nil, fmt.Errorf("persistence: ciphertext shorter than block size")
	}
	iv, body := ciphertext[:bs], ciphertext[bs:]
	out := make([]byte, len(body))
	cipher.NewCTR(c.block, iv).XORKeyStream(out, body)
	return out, nil
}
