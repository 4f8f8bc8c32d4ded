package models

import (
	"fmt"
	"strings"
)

// KeyPrefix represents the type of client identifier behind a limiter key.
type KeyPrefix string

const (
	KeyPrefixIP     KeyPrefix = "ip"
	KeyPrefixUser   KeyPrefix = "user"
	KeyPrefixClient KeyPrefix = "client"
)

// ClientKey is a value object encapsulating limiter key construction.
// It centralizes key format and sanitization to prevent key collision attacks.
type ClientKey struct {
	prefix     KeyPrefix
	identifier string
	class      EndpointClass // optional, empty for identity-wide keys
}

// NewClientKey creates a limiter key scoped to an identifier and endpoint class.
func NewClientKey(prefix KeyPrefix, identifier string, class EndpointClass) ClientKey {
	return ClientKey{
		prefix:     prefix,
		identifier: sanitizeKeySegment(identifier),
		class:      class,
	}
}

// String returns the formatted key for store lookup.
func (k ClientKey) String() string {
	if k.class == "" {
		return fmt.Sprintf("%s:%s", k.prefix, k.identifier)
	}
	return fmt.Sprintf("%s:%s:%s", k.prefix, k.identifier, k.class)
}

// sanitizeKeySegment escapes delimiter characters in key segments to prevent
// collision attacks where user-controlled identifiers containing ':' could
// manipulate adjacent limiter state.
//
// Escape rules (order matters):
//  1. Escape '_' to '__' (escape the escape character first)
//  2. Escape ':' to '_c' (escape the delimiter)
//
// This ensures no two distinct inputs produce the same sanitized output.
func sanitizeKeySegment(s string) string {
	// Order matters: escape the escape character first
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
