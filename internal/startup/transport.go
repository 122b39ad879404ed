package startup

import (
	"context"
	"time"

	"github.com/blogchat/internal/transport"
)

// ConnectTransportWithRetry открывает realtime-соединение с повторами (старт и переподключение chatd).
func ConnectTransportWithRetry(ctx context.Context, opts transport.Options, maxWait time.Duration, logPrefix string) (*transport.Conn, error) {
	var conn *transport.Conn
	err := retry(ctx, "transport dial", maxWait, logPrefix, func(ctx context.Context) error {
		c, err := transport.Dial(ctx, opts)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
