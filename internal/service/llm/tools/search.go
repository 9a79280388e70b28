package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	llmSvc "parley/internal/domain/services/llm"
	"parley/internal/service/llm/tools/external"
)

// SearchTool implements the 'search' tool for searching the web via an
// external API. Failures come back as a structured result, never as an error.
type SearchTool struct {
	client external.SearchClient
	config *ToolConfig
	now    func() time.Time
}

// NewSearchTool creates a new SearchTool instance.
func NewSearchTool(client external.SearchClient, config *ToolConfig) *SearchTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	return &SearchTool{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Spec implements ToolExecutor.
func (t *SearchTool) Spec() llmSvc.ToolSpec {
	return llmSvc.ToolSpec{
		Name:        SearchToolName,
		Description: "Search the web for current information. Returns a short answer and a list of sources.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-10)",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Execute implements ToolExecutor.
// Input parameters:
//   - query (string, required): Search query
//   - max_results (integer, optional): Maximum results to return (default: 5, max: 10)
//
// Returns {query, answer, results, timestamp} or {query, error, results: [], timestamp}.
func (t *SearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, _ := input["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return t.failure(query, errors.New("missing required parameter: query (string)")), nil
	}

	maxResults := t.config.SearchDefaultLimit
	if maxFloat, ok := input["max_results"].(float64); ok {
		maxResults = int(maxFloat)
		if maxResults < 1 {
			maxResults = 1
		} else if maxResults > t.config.SearchMaxLimit {
			maxResults = t.config.SearchMaxLimit
		}
	}

	response, err := t.client.Search(ctx, query, external.SearchOptions{
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return t.failure(query, err), nil
	}

	// Format results for LLM consumption
	resultList := make([]map[string]interface{}, len(response.Results))
	for i, result := range response.Results {
		resultMap := map[string]interface{}{
			"title":   result.Title,
			"url":     result.URL,
			"snippet": result.Snippet,
		}
		if result.PublishedAt != nil {
			resultMap["published_at"] = result.PublishedAt.Format("2006-01-02")
		}
		if result.Score > 0 {
			resultMap["score"] = result.Score
		}
		resultList[i] = resultMap
	}

	return map[string]interface{}{
		"query":     query,
		"answer":    response.Answer,
		"results":   resultList,
		"timestamp": t.now().UTC().Format(time.RFC3339),
	}, nil
}

func (t *SearchTool) failure(query string, err error) map[string]interface{} {
	return map[string]interface{}{
		"query":     query,
		"error":     err.Error(),
		"results":   []map[string]interface{}{},
		"timestamp": t.now().UTC().Format(time.RFC3339),
	}
}
