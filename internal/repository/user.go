package repository

import (
	"context"
	"errors"

	"labspawn/internal/model"

	"gorm.io/gorm"
)

type UserRepository interface {
	GetByUserId(ctx context.Context, userId string) (*model.User, error)
	GetByUserIds(ctx context.Context, userIds []string) ([]*model.User, error)
}

func NewUserRepository(
	r *Repository,
) UserRepository {
	return &userRepository{
		Repository: r,
	}
}

type userRepository struct {
	*Repository
}

func (r *userRepository) GetByUserId(ctx context.Context, userId string) (*model.User, error) {
	var user model.User
	if err := r.DB(ctx).Where("user_id = ?", userId).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUserIds(ctx context.Context, userIds []string) ([]*model.User, error) {
	var users []*model.User
	if len(userIds) == 0 {
		return users, nil
	}
	if err := r.DB(ctx).Where("user_id IN ?", userIds).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
