package main

import (
	"crypto/rand"
	"strings"
)

const (
	// No 0 or 1, which read as O and I.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ23456789"
	codeLength   = 4
)

// newRoomCode draws codeLength symbols uniformly from codeAlphabet.
func newRoomCode() (string, error) {
	// Largest multiple of len(codeAlphabet) that fits in a byte; anything
	// at or above it is redrawn so every symbol is equally likely.
	limit := byte(256 - 256%len(codeAlphabet))

	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)

	for len(out) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == codeLength {
				break
			}
		}
	}

	return string(out), nil
}

// normalizeCode upper-cases user input and reports whether the result is a
// well-formed room code.
func normalizeCode(s string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != codeLength {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return "", false
		}
	}
	return code, true
}
