package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"parley/internal/domain/repositories"
)

// PostgresChatTitleRepository stores generated chat titles
type PostgresChatTitleRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewChatTitleRepository creates a new PostgresChatTitleRepository
func NewChatTitleRepository(config *RepositoryConfig) repositories.ChatTitleWriter {
	return &PostgresChatTitleRepository{pool: config.Pool, tables: config.Tables}
}

// SetChatTitle upserts the title of a chat
func (r *PostgresChatTitleRepository) SetChatTitle(ctx context.Context, chatID, title string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (chat_id, title, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chat_id) DO UPDATE SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at
	`, r.tables.ChatTitles)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, chatID, title); err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	return nil
}
