package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"parley/internal/domain"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
)

// PostgresMessageRepository implements repositories.MessageStore
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *RepositoryConfig) repositories.MessageStore {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const messageColumns = `id, chat_id, role, content, thinking, thinking_duration, model_id,
	is_complete, is_cancelled, tool_calls, attachments, usage, created_at, updated_at`

// CreatePlaceholder inserts an empty, incomplete message
func (r *PostgresMessageRepository) CreatePlaceholder(ctx context.Context, chatID, role string, modelID *string) (string, error) {
	id := uuid.NewString()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, chat_id, role, content, model_id, is_complete, is_cancelled, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, FALSE, FALSE, now(), now())
	`, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, id, chatID, role, modelID); err != nil {
		return "", fmt.Errorf("create placeholder message: %w", err)
	}
	return id, nil
}

// CreateMessage inserts a complete message
func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	toolCalls, err := marshalJSON(nonNilToolCalls(msg.ToolCalls))
	if err != nil {
		return err
	}
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	attachmentsJSON, err := marshalJSON(attachments)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, chat_id, role, content, thinking, thinking_duration, model_id,
			is_complete, is_cancelled, tool_calls, attachments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $13)
	`, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.Thinking, msg.ThinkingDuration, msg.ModelID,
		msg.IsComplete, msg.IsCancelled, toolCalls, attachmentsJSON, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{Message: "message already exists", ResourceType: "message", ResourceID: msg.ID}
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// UpdateMessage applies a partial update. The terminal flags are OR-ed so a
// write can never reset them.
func (r *PostgresMessageRepository) UpdateMessage(ctx context.Context, messageID string, update models.MessageUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	sets := []string{"updated_at = now()"}
	args := []interface{}{messageID}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if update.Content != nil {
		add("content = $%d", *update.Content)
	}
	if update.Thinking != nil {
		add("thinking = $%d", *update.Thinking)
	}
	if update.ThinkingDuration != nil {
		add("thinking_duration = $%d", *update.ThinkingDuration)
	}
	if update.IsComplete != nil {
		add("is_complete = is_complete OR $%d", *update.IsComplete)
	}
	if update.IsCancelled != nil {
		add("is_cancelled = is_cancelled OR $%d", *update.IsCancelled)
	}
	if update.ToolCalls != nil {
		data, err := marshalJSON(update.ToolCalls)
		if err != nil {
			return err
		}
		add("tool_calls = $%d::jsonb", data)
	}
	if update.Usage != nil {
		data, err := marshalJSON(update.Usage)
		if err != nil {
			return err
		}
		add("usage = $%d::jsonb", data)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, r.tables.Messages, strings.Join(sets, ", "))

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &domain.NotFoundError{Message: fmt.Sprintf("message not found: %s", messageID)}
	}
	return nil
}

// GetMessage retrieves a message by id
func (r *PostgresMessageRepository) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	msg, err := scanMessage(executor.QueryRow(ctx, query, messageID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("message not found: %s", messageID)}
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListByChat returns a chat's messages oldest first
func (r *PostgresMessageRepository) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE chat_id = $1 ORDER BY created_at ASC, id ASC`, messageColumns, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// MarkCancelled sets is_cancelled; repeated calls are no-ops
func (r *PostgresMessageRepository) MarkCancelled(ctx context.Context, messageID string) error {
	cancelled := true
	return r.UpdateMessage(ctx, messageID, models.MessageUpdate{IsCancelled: &cancelled})
}

// scanner is satisfied by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg         models.Message
		toolCalls   []byte
		attachments []byte
		usage       []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Thinking, &msg.ThinkingDuration, &msg.ModelID,
		&msg.IsComplete, &msg.IsCancelled, &toolCalls, &attachments, &usage, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.ToolCalls = []models.ToolCall{}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool_calls: %w", err)
		}
	}
	msg.Attachments = []models.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(usage) > 0 {
		msg.Usage = &models.Usage{}
		if err := json.Unmarshal(usage, msg.Usage); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}
	}
	return &msg, nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

func nonNilToolCalls(calls []models.ToolCall) []models.ToolCall {
	if calls == nil {
		return []models.ToolCall{}
	}
	return calls
}
