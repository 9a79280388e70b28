package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"parley/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds the table names used by the repositories. The schema is
// owned by the embedded migrations, so names are fixed per deployment; a
// schema-qualified name (e.g. "staging.messages") isolates environments.
type TableNames struct {
	Messages        string
	Tasks           string
	UserPreferences string
	ChatTitles      string
}

// NewTableNames creates table names qualified with the given schema
// ("" = search_path default)
func NewTableNames(schema string) *TableNames {
	qualify := func(name string) string {
		if schema == "" {
			return name
		}
		return fmt.Sprintf("%s.%s", schema, name)
	}
	return &TableNames{
		Messages:        qualify("messages"),
		Tasks:           qualify("tasks"),
		UserPreferences: qualify("user_preferences"),
		ChatTitles:      qualify("chat_titles"),
	}
}

// CreateConnectionPool creates a pgx pool. Port 6543 (transaction-mode
// PgBouncer) does not support prepared statements, so the pool switches to
// QueryExecModeCacheDescribe there unless the connection string already set
// default_query_exec_mode.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// Configure pool size
	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context.
// If a transaction is present in the context, it returns the transaction.
// Otherwise, it returns the provided pool.
// This enables repositories to automatically participate in transactions when they exist.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	// Check if there's a transaction in the context
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	// No transaction, use the pool
	return pool
}
