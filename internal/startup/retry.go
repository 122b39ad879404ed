package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/blogchat/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry повторяет fn с экспоненциальной задержкой (2s, 4s, ... до 30s), пока не истечёт maxWait
// или не отменится ctx. logPrefix добавляется к сообщениям лога (например "chatd: ").
func retry(ctx context.Context, what string, maxWait time.Duration, logPrefix string, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
