package repository

import (
	"context"
	"testing"

	"labspawn/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository(t *testing.T) {
	base := newTestRepository(t)
	repo := NewUserRepository(base)
	ctx := context.Background()

	require.NoError(t, base.db.Create(&model.User{UserId: "u1", Nickname: "alice"}).Error)
	require.NoError(t, base.db.Create(&model.User{UserId: "u2", Nickname: "bob"}).Error)

	u, err := repo.GetByUserId(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Nickname)

	u, err = repo.GetByUserId(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)

	users, err := repo.GetByUserIds(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = repo.GetByUserIds(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}
