package llm

import "context"

// ToolLimitResolver returns the maximum number of tool rounds one
// generation of the given caller may run.
type ToolLimitResolver interface {
	GetToolRoundLimit(ctx context.Context, userID string) (int, error)
}

// ConfigToolLimitResolver returns the same limit for every caller.
type ConfigToolLimitResolver struct {
	defaultLimit int
}

// NewConfigToolLimitResolver creates a resolver with a fixed limit.
func NewConfigToolLimitResolver(defaultLimit int) *ConfigToolLimitResolver {
	return &ConfigToolLimitResolver{
		defaultLimit: defaultLimit,
	}
}

func (r *ConfigToolLimitResolver) GetToolRoundLimit(ctx context.Context, userID string) (int, error) {
	return r.defaultLimit, nil
}
