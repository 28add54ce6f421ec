package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		hash, err := HashPassword("hunter22")
		require.NoError(t, err)
		assert.True(t, CheckPasswordHash("hunter22", hash))
		assert.False(t, CheckPasswordHash("hunter23", hash))
	})

	t.Run("uses the configured cost", func(t *testing.T) {
		hash, err := HashPassword("hunter22")
		require.NoError(t, err)
		cost, err := bcrypt.Cost([]byte(hash))
		require.NoError(t, err)
		assert.Equal(t, PasswordCost, cost)
	})

	t.Run("garbage hash never matches", func(t *testing.T) {
		assert.False(t, CheckPasswordHash("anything", "not-a-hash"))
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestMaskCode(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{"AB12CD", "AB****"},
		{"ABCD", "****"},
		{"", "****"},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.expected, MaskCode(tc.code))
		})
	}
}
