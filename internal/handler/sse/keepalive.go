package sse

import (
	"log/slog"
	"time"
)

// KeepAliveWriter writes one keep-alive ping. An error means the client is gone.
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// TickerKeepAlive implements periodic keep-alive using time.Ticker
// Sends keep-alive pings at fixed intervals until stopped or connection fails
type TickerKeepAlive struct {
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
}

// NewTickerKeepAlive creates a keep-alive that pings every interval
func NewTickerKeepAlive(interval time.Duration) *TickerKeepAlive {
	return &TickerKeepAlive{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start pings until Stop is called or a write fails. The returned channel
// closes when pinging ends.
func (k *TickerKeepAlive) Start(writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	k.ticker = time.NewTicker(k.interval)
	stopChan := make(chan struct{})

	go func() {
		defer close(stopChan)
		defer k.ticker.Stop()

		for {
			select {
			case <-k.ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					logger.Warn("keep-alive write failed, stopping",
						"error", err,
					)
					return
				}

			case <-k.done:
				return
			}
		}
	}()

	return stopChan
}

// Stop ends pinging. Safe to call multiple times.
func (k *TickerKeepAlive) Stop() {
	select {
	case <-k.done:
	default:
		close(k.done)
	}
}
