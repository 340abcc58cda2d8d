package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	defer logger.DeferLogDuration("user.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("userRepo.List query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 64)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("userRepo.List scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.List rows: %w", err)
	}
	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetOrCreateByEmail returns the user with the given email, creating the row
// on first login. The insert races benignly: ON CONFLICT returns the winner.
func (r *UserRepository) GetOrCreateByEmail(ctx context.Context, email, name string) (model.User, error) {
	defer logger.DeferLogDuration("user.GetOrCreateByEmail", time.Now())()
	var u model.User
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, name, email`,
		name, email,
	).Scan(&u.ID, &u.Name, &u.Email)
	if err != nil {
		return model.User{}, fmt.Errorf("userRepo.GetOrCreateByEmail: %w", err)
	}
	return u, nil
}
