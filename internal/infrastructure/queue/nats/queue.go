package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/resilience"
)

type ingestTask struct {
	TaskID     string `json:"task_id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
}

// Queue dispatches ingest tasks over core NATS. Cancellation is a
// cooperative tombstone: cancelled task IDs are remembered and the
// subscriber drops matching messages before invoking the handler.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	log      *slog.Logger

	mu        sync.Mutex
	cancelled map[string]struct{}
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
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
	log := options.Logger
	if log == nil {
		log = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("knowledge-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:      conn,
		subject:   subject,
		executor:  options.ResilienceExecutor,
		log:       log,
		cancelled: make(map[string]struct{}),
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) DispatchIngest(ctx context.Context, tenantID, documentID string) (string, error) {
	task := ingestTask{
		TaskID:     uuid.NewString(),
		TenantID:   tenantID,
		DocumentID: documentID,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal ingest task: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.dispatch_ingest", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(err)
	}
	return task.TaskID, nil
}

// Cancel marks a task so the subscriber drops it when the message
// arrives. Terminate of in-flight work is not supported over core NATS;
// the flag only widens the tombstone's intent.
func (q *Queue) Cancel(_ context.Context, taskID string, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[taskID] = struct{}{}
	return nil
}

func (q *Queue) isCancelled(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.cancelled[taskID]; ok {
		delete(q.cancelled, taskID)
		return true
	}
	return false
}

func (q *Queue) SubscribeIngest(ctx context.Context, handler func(ctx context.Context, tenantID, documentID string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var task ingestTask
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.log.Error("discard malformed ingest task", "error", err)
			return
		}
		if q.isCancelled(task.TaskID) {
			q.log.Info("skip cancelled ingest task", "task_id", task.TaskID, "document_id", task.DocumentID)
			return
		}

		if err := handler(ctx, task.TenantID, task.DocumentID); err != nil {
			q.log.Error("ingest handler failed",
				"task_id", task.TaskID,
				"tenant_id", task.TenantID,
				"document_id", task.DocumentID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
