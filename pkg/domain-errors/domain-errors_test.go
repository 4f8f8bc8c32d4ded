package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: these are core error primitives used at every trust boundary.
// Unit tests ensure invariants like "wrapped domain errors preserve original code"
// and "errors.Is matches by code" are maintained.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeInvalidInput, Message: "window must be positive"}
		s.Equal("window must be positive", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeInvalidInput}
		s.Equal("invalid_input", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	inner := errors.New("boom")
	err := Wrap(inner, CodeInternal, "store failed")
	s.ErrorIs(err, inner)
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err := New(CodeInvalidInput, "capacity must be positive")
	s.ErrorIs(err, &Error{Code: CodeInvalidInput})
	s.NotErrorIs(err, &Error{Code: CodeInternal})
}

func (s *DomainErrorsSuite) TestWrapPreservesOriginalCode() {
	inner := New(CodeInvalidInput, "bad refill rate")
	err := Wrap(inner, CodeInternal, "could not build limiter")

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(CodeInvalidInput, e.Code)
	s.Equal("could not build limiter", e.Message)
}

func (s *DomainErrorsSuite) TestHasCode() {
	err := New(CodeInvariantViolation, "tokens out of range")
	s.True(HasCode(err, CodeInvariantViolation))
	s.False(HasCode(err, CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeInternal))
}
