package packet

import "golang.org/x/text/encoding/charmap"

// The client speaks ISO-8859-1. Pure ASCII passes through unchanged; only
// high bytes go through the charmap.

func latin1ToUTF8(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if isASCII(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func utf8ToLatin1(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	if isASCII([]byte(s)) {
		return []byte(s)
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Characters outside Latin-1 become '?'.
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r < 0x100 {
				out = append(out, byte(r))
			} else {
				out = append(out, '?')
			}
		}
		return out
	}
	return encoded
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
