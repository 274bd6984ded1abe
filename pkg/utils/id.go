package utils

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"
)

// KVS client ids allow [a-zA-Z0-9_.-]; keep to a safe subset.
const clientIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewClientID returns "<prefix>-<random>" suitable as a signaling client id.
func NewClientID(prefix string) (string, error) {
	id, err := gonanoid.Generate(clientIDAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	if prefix == "" {
		return id, nil
	}
	return prefix + "-" + id, nil
}
