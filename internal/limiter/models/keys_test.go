package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// Justification: key collision attacks could allow attackers to manipulate
// limiter state for other callers by crafting identifiers containing
// delimiter characters.

type KeySecuritySuite struct {
	suite.Suite
}

func TestKeySecuritySuite(t *testing.T) {
	suite.Run(t, new(KeySecuritySuite))
}

func (s *KeySecuritySuite) TestKeyCollisionAttack() {
	s.Run("colon in identifier is sanitized to prevent state crossover", func() {
		// Attack scenario: an attacker provides identifier "user:admin" hoping
		// to affect the limiter state of a different user or key type
		key := NewClientKey(KeyPrefixIP, "user:admin", ClassAuth)

		s.Equal("ip:user_cadmin:auth", key.String())
	})

	s.Run("underscore and colon never collide", func() {
		// "a_:b" and "a:_b" must not sanitize to the same segment
		k1 := NewClientKey(KeyPrefixUser, "a_:b", ClassRead)
		k2 := NewClientKey(KeyPrefixUser, "a:_b", ClassRead)

		s.NotEqual(k1.String(), k2.String())
	})

	s.Run("IPv6 address with port is fully escaped", func() {
		key := NewClientKey(KeyPrefixIP, "::1:8080", ClassRead)

		s.NotContains(key.String()[3:], "::")
	})

	s.Run("legitimate keys are unaffected", func() {
		key := NewClientKey(KeyPrefixUser, "user-123", ClassWrite)

		s.Equal("user:user-123:write", key.String())
	})

	s.Run("class-less keys omit the trailing segment", func() {
		key := NewClientKey(KeyPrefixClient, "partner-7", "")

		s.Equal("client:partner-7", key.String())
	})

	s.Run("key prefix is not confused with user-controlled data", func() {
		// User provides "ip" as identifier hoping to shadow the IP prefix
		key := NewClientKey(KeyPrefixUser, "ip", ClassAuth)

		s.Equal("user:ip:auth", key.String())
	})
}
