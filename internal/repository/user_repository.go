package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
	"github.com/tonmarket/gifts-backend/internal/repository/common"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID возвращает пользователя без блокировки строки.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return common.GetByID[models.User](ctx, r.db, "users", id, apperror.ErrUserNotFound)
}

// GetForUpdate читает пользователя с блокировкой строки. Обязателен
// перед любым изменением балансов: защищает от гонок внутри самой базы
// даже при сбое сервиса блокировок.
func (r *UserRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.User, error) {
	var user models.User
	err := tx.GetContext(ctx, &user,
		`SELECT * FROM users WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get for update: %w", err)
	}
	return &user, nil
}

// SaveBalances сохраняет балансовые поля, изменённые ledger-ом,
// в той же транзакции, где строка была прочитана с FOR UPDATE.
func (r *UserRepository) SaveBalances(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET available = $2, frozen = $3, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.Available, user.Frozen)
	if err != nil {
		return fmt.Errorf("user repository: save balances: %w", err)
	}
	return nil
}
