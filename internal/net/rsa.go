package net

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// RSABlockSize is the size of every RSA-encrypted region in the login message.
const RSABlockSize = 128

var (
	ErrRSABlockSize = errors.New("net: rsa block must be 128 bytes")
	ErrRSARange     = errors.New("net: rsa ciphertext out of range")
)

// RSA decrypts raw (unpadded) 1024-bit RSA blocks in place. crypto/rsa only
// exposes padded schemes, so the modular exponentiation is done directly.
type RSA struct {
	key *rsa.PrivateKey
}

// NewRSA wraps a 1024-bit private key.
func NewRSA(key *rsa.PrivateKey) (*RSA, error) {
	if key.Size() != RSABlockSize {
		return nil, fmt.Errorf("rsa key is %d bits, want %d", key.N.BitLen(), RSABlockSize*8)
	}
	key.Precompute()
	return &RSA{key: key}, nil
}

// LoadRSA reads a PEM encoded private key (PKCS#1 or PKCS#8).
func LoadRSA(path string) (*RSA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rsa key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("rsa key %s: no PEM block", path)
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*rsa.PrivateKey); !ok {
				return nil, fmt.Errorf("rsa key %s: not an RSA key", path)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse rsa key %s: %w", path, err)
	}
	return NewRSA(key)
}

// DecryptBlock replaces the 128-byte ciphertext in block with its plaintext.
func (r *RSA) DecryptBlock(block []byte) error {
	if len(block) != RSABlockSize {
		return ErrRSABlockSize
	}
	c := new(big.Int).SetBytes(block)
	if c.Cmp(r.key.N) >= 0 {
		return ErrRSARange
	}
	m := r.decrypt(c)
	m.FillBytes(block)
	return nil
}

// decrypt uses the CRT values when available.
func (r *RSA) decrypt(c *big.Int) *big.Int {
	k := r.key
	if len(k.Primes) != 2 || k.Precomputed.Dp == nil {
		return new(big.Int).Exp(c, k.D, k.N)
	}
	p, q := k.Primes[0], k.Primes[1]
	m1 := new(big.Int).Exp(c, k.Precomputed.Dp, p)
	m2 := new(big.Int).Exp(c, k.Precomputed.Dq, q)
	h := new(big.Int).Sub(m1, m2)
	h.Mul(h, k.Precomputed.Qinv)
	h.Mod(h, p)
	h.Mul(h, q)
	return h.Add(h, m2)
}

// EncryptBlock is the client-side operation, used by tests and the key tooling.
func EncryptBlock(pub *rsa.PublicKey, block []byte) error {
	if len(block) != RSABlockSize {
		return ErrRSABlockSize
	}
	m := new(big.Int).SetBytes(block)
	if m.Cmp(pub.N) >= 0 {
		return ErrRSARange
	}
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	c.FillBytes(block)
	return nil
}
