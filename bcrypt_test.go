package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-contacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
			wantErr:  false,
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := auth.HashPassword(tt.password)

			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrNoEmptyString)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)

			err = auth.ComparePasswordAndHash(tt.password, hash)
			assert.NoError(t, err)
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	password := "testPassword123!"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	t.Run("matching password", func(t *testing.T) {
		assert.NoError(t, auth.ComparePasswordAndHash(password, hash))
	})

	t.Run("wrong password", func(t *testing.T) {
		err := auth.ComparePasswordAndHash("wrongPassword", hash)
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
	})

	t.Run("garbage hash", func(t *testing.T) {
		assert.Error(t, auth.ComparePasswordAndHash(password, "not-a-hash"))
	})
}

func TestBcryptHasher_Cost(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	assert.Equal(t, bcrypt.MinCost, hasher.Cost)

	hash, err := hasher.HashPassword("secret1")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	t.Run("out of range cost falls back to default", func(t *testing.T) {
		h := auth.NewBcryptHasher(bcrypt.MaxCost + 1)
		assert.GreaterOrEqual(t, h.Cost, bcrypt.DefaultCost)
	})
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, auth.ConstantTimeEquals("abc", "abc"))
	assert.False(t, auth.ConstantTimeEquals("abc", "abd"))
	assert.False(t, auth.ConstantTimeEquals("abc", "abcd"))
	assert.True(t, auth.ConstantTimeEquals("", ""))
}
