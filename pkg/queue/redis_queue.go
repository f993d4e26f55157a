// Package queue is a small at-least-once task queue on Redis streams. Each
// task carries a kind and an opaque payload; its status lives in a hash so
// callers can inspect it after the stream entry is gone.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"filevault/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Task is one unit of queued work.
type Task struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Payload      []byte    `json:"-"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes a task. A nil return acks it; an error retries it until
// MaxRetries attempts have been made.
type Handler func(context.Context, Task) error

type RedisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	taskTTL      time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
	groupErr     error
}

type RedisQueueConfig struct {
	Client     *redis.Client
	Stream     string
	Group      string
	Consumer   string
	TaskTTL    time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	taskTTL := cfg.TaskTTL
	if taskTTL <= 0 {
		taskTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	} else if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisQueue{
		client:       cfg.Client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		taskTTL:      taskTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records a queued task and appends it to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload []byte) (Task, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Task{}, errors.New("task kind required")
	}
	if err := q.ensureGroup(ctx); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	task := Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, task); err != nil {
		return Task{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(task.ID, kind, payload)).Err(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask returns the recorded status of a task.
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (Task, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return Task{}, false, err
	}
	if len(data) == 0 {
		return Task{}, false, nil
	}
	return decodeTask(taskID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
	return nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	logger := util.LoggerFromContext(ctx).With("component", "queue", "stream", q.stream, "consumer", consumer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := q.consumeOnce(ctx, consumer, handler); err != nil && ctx.Err() == nil {
			logger.Warn("queue read failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// consumeOnce reclaims stale pending entries, then reads new ones, and
// returns how many messages it handled.
func (q *RedisQueue) consumeOnce(ctx context.Context, consumer string, handler Handler) (int, error) {
	handled := 0
	msgs, err := q.claimPending(ctx, consumer)
	if err != nil {
		return handled, err
	}
	for _, msg := range msgs {
		q.handleMessage(ctx, msg, handler)
		handled++
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return handled, nil
		}
		return handled, err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.handleMessage(ctx, msg, handler)
			handled++
		}
	}
	return handled, nil
}

func (q *RedisQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	taskID, _ := msg.Values["task_id"].(string)
	kind, _ := msg.Values["kind"].(string)
	payload, _ := msg.Values["payload"].(string)
	if taskID == "" || kind == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task, err := q.markProcessing(ctx, taskID, kind)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.Payload = []byte(payload)
	herr := handler(ctx, task)
	if herr == nil {
		_ = q.mark(ctx, taskID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if task.Attempts >= q.maxRetries {
		_ = q.mark(ctx, taskID, StatusFailed, herr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.mark(ctx, taskID, StatusQueued, herr.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, taskID, kind, task.Payload)
}

func (q *RedisQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends a fresh copy of the message and acks the old one in
// a single MULTI so a failure leaves the original pending.
func (q *RedisQueue) requeueAndAck(ctx context.Context, msgID, taskID, kind string, payload []byte) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(taskID, kind, payload))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) addArgs(taskID, kind string, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task_id": taskID,
			"kind":    kind,
			"payload": string(payload),
		},
	}
}

func (q *RedisQueue) markProcessing(ctx context.Context, taskID, kind string) (Task, error) {
	task, _, err := q.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		task = Task{ID: taskID}
	}
	task.Kind = kind
	task.Attempts++
	task.Status = StatusProcessing
	task.UpdatedAt = time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.UpdatedAt
	}
	if err := q.writeStatus(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *RedisQueue) mark(ctx context.Context, taskID, status, errMsg string) error {
	task, _, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Status = status
	task.ErrorMessage = errMsg
	task.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, task)
}

func (q *RedisQueue) writeStatus(ctx context.Context, task Task) error {
	key := q.taskKey(task.ID)
	payload := map[string]any{
		"id":        task.ID,
		"kind":      task.Kind,
		"status":    task.Status,
		"error":     task.ErrorMessage,
		"attempts":  strconv.Itoa(task.Attempts),
		"createdAt": task.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.taskTTL).Err()
	return nil
}

func (q *RedisQueue) taskKey(taskID string) string {
	return fmt.Sprintf("task:%s:%s", q.stream, taskID)
}

func decodeTask(taskID string, data map[string]string) Task {
	task := Task{
		ID:           taskID,
		Kind:         data["kind"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		task.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		task.UpdatedAt = t
	}
	return task
}
