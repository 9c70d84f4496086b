package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientClassification(t *testing.T) {
	err := &Error{Op: "ConnectTransport", Class: ClassTransient, Err: errors.New("ice restart needed")}
	assert.True(t, Transient(err))
	assert.False(t, Fatal(err))
}

func TestFatalClassification(t *testing.T) {
	err := &Error{Op: "CreateTransport", Class: ClassFatal, Err: errors.New("pc alloc failed")}
	assert.False(t, Transient(err))
	assert.True(t, Fatal(err))
}

func TestFatalDefaultsTrueForUnknownError(t *testing.T) {
	err := errors.New("plain error")
	assert.False(t, Transient(err))
	assert.True(t, Fatal(err))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Op: "x", Class: ClassFatal, Err: inner}
	assert.Equal(t, inner, errors.Unwrap(err))
}
