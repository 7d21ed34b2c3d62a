package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUniqueId(t *testing.T) {
	tests := []struct {
		name    string
		idType  IdType
		wantLen int
		prefix  string
	}{
		{"instance", ID_TYPE_INSTANCE, ID_CODE_LEN + 2, "sh"},
		{"generic", ID_TYPE_GENERIC, ID_CODE_LEN, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetUniqueId(tt.idType)
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, strings.HasPrefix(got, tt.prefix))
			assert.True(t, ValidId(got))
		})
	}
}

func TestRandomCode(t *testing.T) {
	_, err := randomCode(0)
	assert.Error(t, err)

	code, err := randomCode(32)
	require.NoError(t, err)
	assert.Len(t, code, 32)
	assert.Contains(t, LETTERS, string(code[0]))
	for _, c := range code {
		assert.Contains(t, CHARS, string(c))
	}
}

func TestInstanceIdsDiffer(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewInstanceID()
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSecureRandomInt(t *testing.T) {
	_, err := secureRandomInt(0)
	assert.Error(t, err)
	for i := 0; i < 100; i++ {
		n, err := secureRandomInt(7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 7)
	}
}

func TestValidId(t *testing.T) {
	assert.True(t, ValidId("0921"))
	assert.True(t, ValidId("abcd2"))
	assert.False(t, ValidId(""))
	assert.False(t, ValidId("a:b"))
	assert.False(t, ValidId("has space"))
	assert.False(t, ValidId(strings.Repeat("x", MaxIdLen+1)))
}
