package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenAndParseToken(t *testing.T) {
	j := NewJwtWithKey("unit-test-key")

	token, err := j.GenToken("u-1", RoleInstructor, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := j.ParseToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserId)
	assert.True(t, claims.Privileged())
}

func TestParseTokenDefaultsRole(t *testing.T) {
	j := NewJwtWithKey("unit-test-key")
	token, err := j.GenToken("u-2", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := j.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleLearner, claims.Role)
	assert.False(t, claims.Privileged())
}

func TestParseTokenRejectsWrongKey(t *testing.T) {
	token, err := NewJwtWithKey("a").GenToken("u-3", RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = NewJwtWithKey("b").ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	j := NewJwtWithKey("unit-test-key")
	token, err := j.GenToken("u-4", RoleLearner, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = j.ParseToken(token)
	assert.Error(t, err)
}
