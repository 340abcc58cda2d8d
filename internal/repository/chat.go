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

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// FindPersonal returns the id of the two-party chat between a and b.
func (r *ChatRepository) FindPersonal(ctx context.Context, a, b int64) (int64, error) {
	defer logger.DeferLogDuration("chat.FindPersonal", time.Now())()
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT c.id FROM chats c
		 WHERE EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)`,
		a, b,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("chatRepo.FindPersonal: %w", err)
	}
	return id, nil
}

// CreatePersonal creates a chat between a and b and registers both
// participants in one transaction.
func (r *ChatRepository) CreatePersonal(ctx context.Context, a, b int64) (int64, error) {
	defer logger.DeferLogDuration("chat.CreatePersonal", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("chatRepo.CreatePersonal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO chats DEFAULT VALUES RETURNING id`,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("chatRepo.CreatePersonal insert chat: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
		id, a, b,
	); err != nil {
		return 0, fmt.Errorf("chatRepo.CreatePersonal insert participants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("chatRepo.CreatePersonal commit: %w", err)
	}
	return id, nil
}

// EnsurePersonal finds the chat between a and b or creates it. The created
// flag lets callers announce brand-new conversations.
func (r *ChatRepository) EnsurePersonal(ctx context.Context, a, b int64) (int64, bool, error) {
	id, err := r.FindPersonal(ctx, a, b)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}
	id, err = r.CreatePersonal(ctx, a, b)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *ChatRepository) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	defer logger.DeferLogDuration("chat.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 2)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) Participants(ctx context.Context, chatID int64) ([]model.User, error) {
	defer logger.DeferLogDuration("chat.Participants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.name, u.email
		 FROM users u
		 JOIN chat_participants cp ON cp.user_id = u.id
		 WHERE cp.chat_id = $1
		 ORDER BY u.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.Participants query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 2)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("chatRepo.Participants scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.Participants rows: %w", err)
	}
	return users, nil
}

// ListSummaries returns one row per chat the user belongs to, each with its
// most recent message (if any). Ordering is left to the caller.
func (r *ChatRepository) ListSummaries(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("chat.ListSummaries", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id,
		        m.id, m.content, m.created_at, u.id, u.name, u.email
		 FROM chats c
		 JOIN chat_participants me ON me.chat_id = c.id AND me.user_id = $1
		 LEFT JOIN LATERAL (
		     SELECT id, sender_id, content, created_at FROM messages
		     WHERE chat_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
		 ) m ON true
		 LEFT JOIN users u ON u.id = m.sender_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListSummaries query: %w", err)
	}
	defer rows.Close()

	summaries := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var s model.ConversationSummary
		var msgID *int64
		var content *string
		var createdAt *time.Time
		var senderID *int64
		var senderName, senderEmail *string
		if err := rows.Scan(&s.ID, &msgID, &content, &createdAt, &senderID, &senderName, &senderEmail); err != nil {
			return nil, fmt.Errorf("chatRepo.ListSummaries scan: %w", err)
		}
		if msgID != nil {
			s.LastMessage = &model.Message{
				ID:        *msgID,
				ChatID:    s.ID,
				Content:   *content,
				CreatedAt: *createdAt,
				Sender:    model.User{ID: *senderID, Name: *senderName, Email: *senderEmail},
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListSummaries rows: %w", err)
	}

	for i := range summaries {
		participants, err := r.Participants(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		summaries[i].Participants = participants
	}
	return summaries, nil
}
