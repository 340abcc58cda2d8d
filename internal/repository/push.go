package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/push"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

// Save upserts a subscription; re-subscribing an existing endpoint rebinds
// it to the current user.
func (r *PushRepository) Save(ctx context.Context, sub push.Subscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = $1, p256dh = $3, auth = $4`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	return nil
}

func (r *PushRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	defer logger.DeferLogDuration("push.DeleteByEndpoint", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("pushRepo.DeleteByEndpoint: %w", err)
	}
	return nil
}

func (r *PushRepository) ListByUser(ctx context.Context, userID int64) ([]push.Subscription, error) {
	defer logger.DeferLogDuration("push.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]push.Subscription, 0, 2)
	for rows.Next() {
		var s push.Subscription
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("pushRepo.ListByUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.ListByUser rows: %w", err)
	}
	return subs, nil
}
