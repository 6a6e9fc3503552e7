package net

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"io"
)

const (
	frameHeaderSize = 2
	checksumSize    = 4
	// MaxFrameSize bounds a single frame body.
	MaxFrameSize = 24590
	// xteaPadding fills the tail of an encrypted body up to the block size.
	xteaPadding = 0x33
)

// ReadFrame reads one frame from r.
// Wire format: [2 bytes LE: body length][body].
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	bodyLen := int(binary.LittleEndian.Uint16(header[:]))
	if bodyLen == 0 || bodyLen > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body (%d bytes): %w", bodyLen, err)
	}
	return body, nil
}

// WriteFrame writes one frame to w.
// Wire format: [2 bytes LE: len(body)][body].
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d", len(body))
	}
	buf := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint16(buf, uint16(len(body)))
	copy(buf[frameHeaderSize:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// StripChecksum removes a leading Adler-32 checksum from a first-message body
// when it matches the rest of the body. Clients that do not send one are
// passed through unchanged.
func StripChecksum(body []byte) []byte {
	if len(body) < checksumSize {
		return body
	}
	rest := body[checksumSize:]
	if binary.LittleEndian.Uint32(body) != adler32.Checksum(rest) {
		return body
	}
	return rest
}

// sealBody builds an outbound frame body.
// Without a cipher the payload is sent as-is. With a cipher:
// [adler32 if checksum][XTEA([2 bytes LE: len(payload)][payload][padding])].
func sealBody(payload []byte, cipher *Cipher, checksum bool) ([]byte, error) {
	if cipher == nil {
		return payload, nil
	}

	inner := make([]byte, frameHeaderSize, frameHeaderSize+len(payload)+xteaBlockSize)
	binary.LittleEndian.PutUint16(inner, uint16(len(payload)))
	inner = append(inner, payload...)
	for len(inner)%xteaBlockSize != 0 {
		inner = append(inner, xteaPadding)
	}
	if err := cipher.Encrypt(inner); err != nil {
		return nil, err
	}
	if !checksum {
		return inner, nil
	}

	body := make([]byte, checksumSize, checksumSize+len(inner))
	binary.LittleEndian.PutUint32(body, adler32.Checksum(inner))
	return append(body, inner...), nil
}

// OpenBody reverses sealBody for a peer holding the same key. Used by tests
// and the client-side tooling.
func OpenBody(body []byte, cipher *Cipher, checksum bool) ([]byte, error) {
	if cipher == nil {
		return body, nil
	}
	if checksum {
		if len(body) < checksumSize {
			return nil, fmt.Errorf("body too short for checksum: %d", len(body))
		}
		want := binary.LittleEndian.Uint32(body)
		body = body[checksumSize:]
		if got := adler32.Checksum(body); got != want {
			return nil, fmt.Errorf("checksum mismatch: got %08x want %08x", got, want)
		}
	}
	inner := make([]byte, len(body))
	copy(inner, body)
	if err := cipher.Decrypt(inner); err != nil {
		return nil, err
	}
	if len(inner) < frameHeaderSize {
		return nil, fmt.Errorf("inner body too short: %d", len(inner))
	}
	n := int(binary.LittleEndian.Uint16(inner))
	if n > len(inner)-frameHeaderSize {
		return nil, fmt.Errorf("inner length %d exceeds body %d", n, len(inner)-frameHeaderSize)
	}
	return inner[frameHeaderSize : frameHeaderSize+n], nil
}
