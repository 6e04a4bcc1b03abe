// Package nats carries retry wake-up signals between ingestion and retry workers.
// Messages are hints only: the retry queue table stays the source of truth, so a
// lost message just delays a replay until the next poll.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

// RetryReady is published after a run enqueued retry entries.
type RetryReady struct {
	RunID   string    `json:"run_id"`
	Entries int       `json:"entries"`
	SentAt  time.Time `json:"sent_at"`
}

type Notifier struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Notifier, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("caseindex"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Notifier{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		now:      time.Now,
	}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// PublishRetryReady implements ports.RetryNotifier.
func (n *Notifier) PublishRetryReady(ctx context.Context, runID string, entries int) error {
	data, err := encodeRetryReady(RetryReady{RunID: runID, Entries: entries, SentAt: n.now().UTC()})
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := n.conn.Publish(n.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if n.executor != nil {
		err = n.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeRetryReady calls handler for every wake-up until ctx is done. Workers
// share a queue group so one signal wakes one worker.
func (n *Notifier) SubscribeRetryReady(ctx context.Context, handler func(context.Context, RetryReady) error) error {
	sub, err := n.conn.QueueSubscribe(n.subject, "retry-workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		signal, err := decodeRetryReady(msg.Data)
		if err != nil {
			slog.Warn("nats_retry_signal_invalid", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, signal); err != nil {
			slog.Error("retry_signal_handler_failed", "run_id", signal.RunID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeRetryReady(signal RetryReady) ([]byte, error) {
	data, err := json.Marshal(signal)
	if err != nil {
		return nil, fmt.Errorf("encode retry signal: %w", err)
	}
	return data, nil
}

// decodeRetryReady also accepts a bare run id, which is what operators send by
// hand with the nats CLI.
func decodeRetryReady(data []byte) (RetryReady, error) {
	var signal RetryReady
	if err := json.Unmarshal(data, &signal); err == nil {
		return signal, nil
	}
	if len(data) == 0 || data[0] == '{' {
		return RetryReady{}, fmt.Errorf("decode retry signal: malformed payload")
	}
	return RetryReady{RunID: string(data)}, nil
}
