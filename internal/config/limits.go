package config

import "time"

const (
	// DefaultFlushIntervalMS is the minimum spacing between batched message writes.
	DefaultFlushIntervalMS = 150

	// DefaultMaxToolRounds bounds provider re-opens within one generation.
	DefaultMaxToolRounds = 5

	// SweepBatchSize is the number of tasks one sweep claims.
	SweepBatchSize = 10

	// TaskLease is how long a claimed task is hidden from other sweepers.
	// A crashed worker's tasks become claimable again after it.
	TaskLease = 15 * time.Minute

	// TaskRetention is how long terminal tasks are kept before purge.
	TaskRetention = 7 * 24 * time.Hour

	// MaxChatTitleLength is the maximum length (runes) of generated chat titles.
	MaxChatTitleLength = 60

	// MaxHistoryMessages caps the history accepted in one generate request.
	MaxHistoryMessages = 200
)
