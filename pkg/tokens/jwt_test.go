package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	gen := NewGenerator("test-secret", time.Hour)

	token, err := gen.Generate("user-1", "alice", "admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := gen.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "fleetpulse", claims.Issuer)
}

func TestValidateWrongSecret(t *testing.T) {
	gen := NewGenerator("secret-a", time.Hour)
	other := NewGenerator("secret-b", time.Hour)

	token, err := gen.Generate("user-1", "alice", "admin")
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestValidateExpired(t *testing.T) {
	gen := NewGenerator("test-secret", -time.Minute)

	token, err := gen.Generate("user-1", "alice", "admin")
	require.NoError(t, err)

	_, err = gen.Validate(token)
	assert.Error(t, err)
}

func TestValidateGarbage(t *testing.T) {
	gen := NewGenerator("test-secret", time.Hour)

	_, err := gen.Validate("not.a.token")
	assert.Error(t, err)
}

func TestDefaultTTL(t *testing.T) {
	gen := NewGenerator("test-secret", 0)
	assert.Equal(t, 24*time.Hour, gen.TTL())
}
