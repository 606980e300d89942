// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	secretTokenPrefix = "${input:"
	secretTokenSuffix = "}"
)

// SecretStore supplies protected secret values keyed by user and input id.
type SecretStore interface {
	GetProtectedValue(ctx context.Context, userID, inputID string) (string, bool, error)
}

// SecretOpener decrypts a protected value. Implementations must not fail;
// an undecryptable value yields ok=false.
type SecretOpener interface {
	Unprotect(token string) (string, bool)
}

// SecretInjector substitutes ${input:<id>} tokens in configuration values
// with the user's decrypted secrets.
type SecretInjector struct {
	store  SecretStore
	opener SecretOpener
	log    logrus.FieldLogger
}

func NewSecretInjector(store SecretStore, opener SecretOpener, log logrus.FieldLogger) *SecretInjector {
	return &SecretInjector{
		store:  store,
		opener: opener,
		log:    log,
	}
}

// Inject replaces every ${input:<id>} token in raw with the user's secret
// for that id. Missing or undecryptable secrets substitute the empty
// string. A token with no closing brace is left as literal text.
func (si *SecretInjector) Inject(ctx context.Context, raw, userID string) string {
	if !strings.Contains(raw, secretTokenPrefix) {
		return raw
	}

	var b strings.Builder
	rest := raw
	for {
		start := strings.Index(rest, secretTokenPrefix)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start:]

		end := strings.Index(rest, secretTokenSuffix)
		if end < 0 {
			// Unterminated token, keep it literally.
			b.WriteString(rest)
			break
		}

		inputID := rest[len(secretTokenPrefix):end]
		b.WriteString(si.lookup(ctx, userID, inputID))
		rest = rest[end+len(secretTokenSuffix):]
	}

	return b.String()
}

func (si *SecretInjector) lookup(ctx context.Context, userID, inputID string) string {
	protected, found, err := si.store.GetProtectedValue(ctx, userID, inputID)
	if err != nil {
		si.log.WithFields(logrus.Fields{
			"userID":  userID,
			"inputID": inputID,
		}).WithError(err).Warn("Failed to read secret, substituting empty value")
		return ""
	}
	if !found {
		return ""
	}

	plain, ok := si.opener.Unprotect(protected)
	if !ok {
		si.log.WithFields(logrus.Fields{
			"userID":  userID,
			"inputID": inputID,
		}).Warn("Failed to decrypt secret, substituting empty value")
		return ""
	}
	return plain
}

// InjectConfig applies Inject to every argument, environment value and
// header value of a copy of cfg. The server name, command path and URL are
// never templated.
func (si *SecretInjector) InjectConfig(ctx context.Context, cfg ServerConfig, userID string) ServerConfig {
	injected := cfg.Clone()
	for i, arg := range injected.Args {
		injected.Args[i] = si.Inject(ctx, arg, userID)
	}
	for k, v := range injected.Env {
		injected.Env[k] = si.Inject(ctx, v, userID)
	}
	for k, v := range injected.Headers {
		injected.Headers[k] = si.Inject(ctx, v, userID)
	}
	return injected
}
