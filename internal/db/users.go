package db

import (
	"context"

	"gorm.io/gorm"
)

type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) FindByTgID(ctx context.Context, tgID int64) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Create создаёт активного пользователя с ролью по умолчанию.
func (r *UserRepo) Create(ctx context.Context, tgID int64) (*User, error) {
	user := User{TgID: tgID, Role: RoleUser, IsActive: true}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Ensure возвращает пользователя с tgID, создавая его при отсутствии.
func (r *UserRepo) Ensure(ctx context.Context, tgID int64) (*User, bool, error) {
	user, err := r.FindByTgID(ctx, tgID)
	if err == nil {
		return user, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}
	user, err = r.Create(ctx, tgID)
	if err != nil {
		// параллельный первый вход успел создать пользователя
		if again, findErr := r.FindByTgID(ctx, tgID); findErr == nil {
			return again, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}

// EnsureAdminRole сохраняет роль admin. Если роль уже admin, ничего не делает.
func (r *UserRepo) EnsureAdminRole(ctx context.Context, user *User) error {
	if user.Role == RoleAdmin {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("role", RoleAdmin).Error; err != nil {
		return err
	}
	user.Role = RoleAdmin
	return nil
}

func (r *UserRepo) SetActive(ctx context.Context, userID uint, active bool) error {
	return r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("is_active", active).Error
}

func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&User{}).Count(&count).Error
	return count, err
}
