package encryption

import (
	"bytes"
	"fmt"

	"wpsync/internal/wp"
)

// testHeader is prepended by TestSealer so sealed values are clearly
// different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("WPSEAL\x00\x00")

// TestSealer is a deterministic, non-cryptographic sealer for tests.
type TestSealer struct{}

var _ wp.TokenSealer = (*TestSealer)(nil)

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Setup() error { return nil }

func (s *TestSealer) IsConfigured() bool { return true }

func (s *TestSealer) Seal(plaintext string) ([]byte, error) {
	return append(bytes.Clone(testHeader), plaintext...), nil
}

func (s *TestSealer) Open(sealed []byte) (string, error) {
	if !bytes.HasPrefix(sealed, testHeader) {
		return "", fmt.Errorf("invalid test seal header")
	}
	return string(sealed[len(testHeader):]), nil
}
