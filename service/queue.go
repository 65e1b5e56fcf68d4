package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/config"
)

const TypeGenerateRun = "task:generate"

type generatePayload struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
}

// QueueScheduler hands runs to an asynq worker running in this process.
// The run itself never leaves memory; only its id goes through redis.
type QueueScheduler struct {
	Log *logrus.Entry

	client  *asynq.Client
	server  *asynq.Server
	queue   string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*GenerationRun
}

func NewQueueScheduler(cfg *config.Config, log *logrus.Entry) *QueueScheduler {
	log = orStandard(log)
	opt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	return &QueueScheduler{
		Log:    log,
		client: asynq.NewClient(opt),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues:      map[string]int{cfg.Queue.Name: 1},
			Logger:      log,
		}),
		queue:   cfg.Queue.Name,
		timeout: cfg.QueueTimeout(),
		pending: make(map[string]*GenerationRun),
	}
}

// Start runs the worker in the background.
func (q *QueueScheduler) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateRun, q.HandleGenerateRun)
	q.Log.WithField("queue", q.queue).Info("starting generation worker")
	return q.server.Start(mux)
}

// Schedule enqueues the run. On error the run is not tracked and the caller
// still owns it.
func (q *QueueScheduler) Schedule(run *GenerationRun) error {
	payload, err := json.Marshal(generatePayload{SessionID: run.SessionID(), RunID: run.ID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Queue(q.queue),
		asynq.TaskID(run.ID),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}

	q.track(run)
	info, err := q.client.Enqueue(asynq.NewTask(TypeGenerateRun, payload, opts...))
	if err != nil {
		q.take(run.ID)
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.Log.WithFields(logrus.Fields{"session": run.SessionID(), "run": run.ID, "queue": info.Queue}).Debug("run enqueued")
	return nil
}

// HandleGenerateRun executes a tracked run. A failed run is recorded on its
// session and is not retried.
func (q *QueueScheduler) HandleGenerateRun(ctx context.Context, t *asynq.Task) error {
	var payload generatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	run, ok := q.take(payload.RunID)
	if !ok {
		return fmt.Errorf("run %s not tracked by this process: %w", payload.RunID, asynq.SkipRetry)
	}
	if run.SessionID() != payload.SessionID {
		run.Abort(fmt.Errorf("run %s belongs to session %s", run.ID, run.SessionID()))
		return fmt.Errorf("session mismatch for run %s: %w", payload.RunID, asynq.SkipRetry)
	}
	_, _ = run.Execute(ctx)
	return nil
}

// Shutdown stops the worker and fails any run it never picked up.
func (q *QueueScheduler) Shutdown() {
	q.server.Shutdown()
	if err := q.client.Close(); err != nil {
		q.Log.WithError(err).Warn("close queue client")
	}
	q.mu.Lock()
	left := q.pending
	q.pending = make(map[string]*GenerationRun)
	q.mu.Unlock()
	for _, run := range left {
		run.Abort(ErrQueueClosed)
	}
}

// Pending reports how many runs are enqueued but not yet picked up.
func (q *QueueScheduler) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *QueueScheduler) track(run *GenerationRun) {
	q.mu.Lock()
	q.pending[run.ID] = run
	q.mu.Unlock()
}

func (q *QueueScheduler) take(id string) (*GenerationRun, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	run, ok := q.pending[id]
	delete(q.pending, id)
	return run, ok
}
