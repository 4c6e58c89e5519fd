package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

const userColumns = `id, username, email, phone_number, is_active`

// UserRepository reads the user directory. Rows are owned by the accounts service.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = ? LIMIT 1`, phone)
}

// LockByID reads the user row with FOR UPDATE. Every subscription mutation for
// the user takes this lock first, which serializes them per user.
func (r *UserRepository) LockByID(ctx context.Context, id uint64) (*entity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.User, error) {
	user := &entity.User{}
	var email sql.NullString

	err := conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&email,
		&user.PhoneNumber,
		&user.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Email = stringPtrFromNull(email)
	return user, nil
}
