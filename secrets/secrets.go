// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package secrets provides at-rest protection for user supplied secret
// values using fernet tokens.
package secrets

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// Protector encrypts and decrypts secret values with a single fernet key.
type Protector struct {
	key *fernet.Key
}

// NewProtector creates a Protector from an encoded fernet key.
func NewProtector(encodedKey string) (*Protector, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Protector{key: key}, nil
}

// GenerateKey returns a new encoded fernet key. Used by deployments that
// have no key configured yet.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	return k.Encode(), nil
}

// Protect encrypts a plaintext value for storage.
func (p *Protector) Protect(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), p.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Unprotect decrypts a stored token. It never fails; a token that cannot
// be verified yields ("", false) so callers can fall back to an empty
// value instead of aborting.
func (p *Protector) Unprotect(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, []*fernet.Key{p.key})
	if msg == nil {
		return "", false
	}
	return string(msg), true
}

// Mask returns a log-safe representation of a secret value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
