package net

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// xteaBlockSize is the XTEA block size; outbound bodies are padded to it.
const xteaBlockSize = xtea.BlockSize

// ErrBlockAlignment is returned when a ciphertext is not a multiple of 8 bytes.
var ErrBlockAlignment = errors.New("net: xtea data not block aligned")

// Cipher is the per-connection XTEA session cipher.
//
// The client treats each 8-byte block as two little-endian words and builds
// its key from four little-endian words. x/crypto/xtea reads big-endian words,
// so key and blocks are byte-swapped per word around each call.
type Cipher struct {
	c *xtea.Cipher
}

// NewCipher creates a cipher from the four key words read off the wire.
func NewCipher(key [4]uint32) (*Cipher, error) {
	var raw [16]byte
	for i, k := range key {
		binary.BigEndian.PutUint32(raw[i*4:], k)
	}
	c, err := xtea.NewCipher(raw[:])
	if err != nil {
		return nil, fmt.Errorf("xtea key: %w", err)
	}
	return &Cipher{c: c}, nil
}

// Encrypt encrypts data in place. len(data) must be a multiple of 8.
func (c *Cipher) Encrypt(data []byte) error {
	return c.apply(data, c.c.Encrypt)
}

// Decrypt decrypts data in place. len(data) must be a multiple of 8.
func (c *Cipher) Decrypt(data []byte) error {
	return c.apply(data, c.c.Decrypt)
}

func (c *Cipher) apply(data []byte, fn func(dst, src []byte)) error {
	if len(data)%xteaBlockSize != 0 {
		return ErrBlockAlignment
	}
	for off := 0; off < len(data); off += xteaBlockSize {
		blk := data[off : off+xteaBlockSize]
		swapWords(blk)
		fn(blk, blk)
		swapWords(blk)
	}
	return nil
}

// swapWords reverses byte order within each 4-byte word of an 8-byte block.
func swapWords(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5], b[6], b[7] = b[7], b[6], b[5], b[4]
}
