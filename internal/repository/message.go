package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a message and returns it with the server-issued id and
// the sender resolved, ready for fan-out.
func (r *MessageRepository) Create(ctx context.Context, chatID, senderID int64, content string, at time.Time) (model.Message, error) {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	var m model.Message
	err := r.pool.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO messages (chat_id, sender_id, content, created_at)
		     VALUES ($1, $2, $3, $4)
		     RETURNING id, chat_id, content, created_at, sender_id
		 )
		 SELECT ins.id, ins.chat_id, ins.content, ins.created_at, u.id, u.name, u.email
		 FROM ins JOIN users u ON u.id = ins.sender_id`,
		chatID, senderID, content, at,
	).Scan(&m.ID, &m.ChatID, &m.Content, &m.CreatedAt, &m.Sender.ID, &m.Sender.Name, &m.Sender.Email)
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.Create: %w", err)
	}
	return m, nil
}

// ListByChat returns the chat's messages ascending by creation time.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID int64) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.content, m.created_at, u.id, u.name, u.email
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at, m.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.CreatedAt, &m.Sender.ID, &m.Sender.Name, &m.Sender.Email); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat rows: %w", err)
	}
	return messages, nil
}
