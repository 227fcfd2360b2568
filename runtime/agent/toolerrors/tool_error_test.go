package toolerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("disk full")
	te := Wrap("write failed", fmt.Errorf("save: %w", root))

	assert.Equal(t, "write failed", te.Error())
	require.NotNil(t, te.Cause)
	assert.Equal(t, "save: disk full", te.Cause.Message)
	assert.Equal(t, "write failed <- save: disk full <- disk full", te.Diagnostic())
}

func TestFromErrorReusesToolError(t *testing.T) {
	inner := New("inner")
	got := FromError(fmt.Errorf("outer: %w", inner))
	assert.Same(t, inner, got)
	assert.Nil(t, FromError(nil))
}

func TestFromPanic(t *testing.T) {
	te := FromPanic("boom", []byte("goroutine 1 [running]"))
	assert.Equal(t, "capability panicked: boom", te.Error())
	assert.Equal(t, "goroutine 1 [running]", te.Diagnostic())

	cause := errors.New("nil map")
	te = FromPanic(cause, nil)
	require.NotNil(t, te.Cause)
	assert.Equal(t, "nil map", te.Cause.Message)
}

func TestErrorsAsThroughChain(t *testing.T) {
	te := Wrap("", New("root"))
	var target *ToolError
	require.True(t, errors.As(te, &target))
	assert.Equal(t, "root", te.Message)
}

func TestNilSafe(t *testing.T) {
	var te *ToolError
	assert.Equal(t, "", te.Error())
	assert.Nil(t, te.Unwrap())
	assert.Equal(t, "", te.Diagnostic())
	assert.Equal(t, "capability failed", New("").Message)
}
