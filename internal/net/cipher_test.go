package net

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"testing"
)

// referenceXTEA encrypts one block the way the client does: words are read
// little-endian from the buffer.
func referenceXTEA(key [4]uint32, block []byte) {
	v0 := binary.LittleEndian.Uint32(block[0:])
	v1 := binary.LittleEndian.Uint32(block[4:])
	const delta = 0x9E3779B9
	var sum uint32
	for i := 0; i < 32; i++ {
		v0 += ((v1<<4 ^ v1>>5) + v1) ^ (sum + key[sum&3])
		sum += delta
		v1 += ((v0<<4 ^ v0>>5) + v0) ^ (sum + key[(sum>>11)&3])
	}
	binary.LittleEndian.PutUint32(block[0:], v0)
	binary.LittleEndian.PutUint32(block[4:], v1)
}

func TestCipherMatchesClientLayout(t *testing.T) {
	key := [4]uint32{0x01234567, 0x89abcdef, 0xfedcba98, 0x76543210}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plain := []byte("sixteen byte msg")
	got := append([]byte(nil), plain...)
	if err := c.Encrypt(got); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	want := append([]byte(nil), plain...)
	referenceXTEA(key, want[0:8])
	referenceXTEA(key, want[8:16])
	if !bytes.Equal(got, want) {
		t.Fatalf("ciphertext mismatch\n got %x\nwant %x", got, want)
	}

	if err := c.Decrypt(got); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip: got %q", got)
	}
}

func TestCipherRejectsUnaligned(t *testing.T) {
	c, _ := NewCipher([4]uint32{1, 2, 3, 4})
	if err := c.Encrypt(make([]byte, 7)); !errors.Is(err, ErrBlockAlignment) {
		t.Fatalf("err = %v, want ErrBlockAlignment", err)
	}
}

func TestRSARoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	dec, err := NewRSA(key)
	if err != nil {
		t.Fatalf("NewRSA: %v", err)
	}

	plain := make([]byte, RSABlockSize)
	plain[0] = 0 // keeps the value below the modulus
	copy(plain[1:], "key material and credentials")

	block := append([]byte(nil), plain...)
	if err := EncryptBlock(&key.PublicKey, block); err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}
	if bytes.Equal(block, plain) {
		t.Fatalf("ciphertext equals plaintext")
	}
	if err := dec.DecryptBlock(block); err != nil {
		t.Fatalf("DecryptBlock: %v", err)
	}
	if !bytes.Equal(block, plain) {
		t.Fatalf("round trip mismatch")
	}
}

func TestRSARejectsBadBlocks(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	dec, _ := NewRSA(key)

	if err := dec.DecryptBlock(make([]byte, 64)); !errors.Is(err, ErrRSABlockSize) {
		t.Fatalf("short block err = %v", err)
	}
	tooBig := bytes.Repeat([]byte{0xff}, RSABlockSize)
	if err := dec.DecryptBlock(tooBig); !errors.Is(err, ErrRSARange) {
		t.Fatalf("out of range err = %v", err)
	}
}

func TestNewRSARejectsWrongSize(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewRSA(key); err == nil {
		t.Fatalf("expected error for 2048-bit key")
	}
}
