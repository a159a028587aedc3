package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCode     = MustNewCode("test.code")
	itemMissing  = MustNewCode("item.not_found")
	tableMissing = MustNewCode("schema.not_found")
)

func TestNewCode(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		code, err := NewCode("storage.corruption")
		require.NoError(t, err)
		assert.Equal(t, "storage", code.Package())
		assert.Equal(t, "corruption", code.Name())
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		for _, s := range []string{"", "nodot", "Upper.case", "a.b.c", "pkg.", ".name"} {
			_, err := NewCode(s)
			assert.Error(t, err, s)
		}
	})

	t.Run("RedundantWord", func(t *testing.T) {
		_, err := NewCode("storage.read_error")
		assert.Error(t, err)
	})

	t.Run("MustPanics", func(t *testing.T) {
		assert.Panics(t, func() { MustNewCode("bad") })
	})
}

func TestNew(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := New(testCode, "read failed", cause).AddContext("table", "objects")

	assert.Equal(t, "read failed: disk gone", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Equal(t, "objects", err.Context["table"])
	assert.False(t, err.Timestamp.IsZero())
	assert.NotEmpty(t, err.Stack)

	plain := Newf(testCode, "missing %s", "x")
	assert.Equal(t, "missing x", plain.Error())
}

func TestIs(t *testing.T) {
	inner := New(itemMissing, "item not found", nil)
	outer := New(testCode, "get failed", inner)
	wrapped := fmt.Errorf("handler: %w", outer)

	assert.True(t, Is(wrapped, testCode))
	assert.True(t, Is(wrapped, itemMissing))
	assert.False(t, Is(wrapped, tableMissing))
	assert.False(t, Is(stderrors.New("plain"), itemMissing))
	assert.False(t, Is(nil, itemMissing))
}

func TestHelpers(t *testing.T) {
	err := New(tableMissing, "table not declared", nil).
		AddContext("table", "objects").
		AddContext("group", "objects")

	assert.Equal(t, "schema.not_found", GetCode(err))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
	assert.Equal(t, "objects", GetContext(err)["table"])

	formatted := FormatError(err)
	assert.Contains(t, formatted, "Code: schema.not_found")
	assert.Contains(t, formatted, "group: objects")

	assert.Nil(t, AsError(nil))
	assert.Equal(t, err, AsError(err))
	assert.Equal(t, "common.internal", AsError(stderrors.New("x")).Code.String())
}
