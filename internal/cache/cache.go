// Package cache mirrors task lifecycle state into Redis so dashboards
// and sibling processes can poll cheap keys instead of hitting the task
// store. The cache is a projection: the store stays the source of
// truth, and every write here is best-effort.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

const (
	defaultPrefix = "runjplib:"
	defaultTTL    = time.Hour
)

// Config describes how to construct a StatusCache.
type Config struct {
	Client *redis.Client

	// Prefix namespaces every key; default "runjplib:".
	Prefix string

	// TTL bounds how stale a cached task entry can get when its task
	// stops producing events. Default one hour.
	TTL time.Duration

	Logger *slog.Logger
}

// StatusCache is an api.Observer that mirrors task state under
// <prefix>task:status:<id> hashes and queue gauges under fixed
// <prefix>queue:* keys.
type StatusCache struct {
	api.NoopObserver

	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ api.Observer = (*StatusCache)(nil)

// New builds a StatusCache. The client is required.
func New(cfg Config) (*StatusCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusCache{
		client: cfg.Client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// TaskView is the cached projection of one task.
type TaskView struct {
	Status      api.Status
	CurrentStep api.Step
	Progress    int
	Error       string
}

func (c *StatusCache) taskKey(id string) string {
	return c.prefix + "task:status:" + id
}

func (c *StatusCache) gaugeKey(name string) string {
	return c.prefix + "queue:" + name
}

// TaskStatus returns the cached view of a task. ok is false when no
// entry exists, either because the task was never mirrored or because
// its entry expired.
func (c *StatusCache) TaskStatus(ctx context.Context, id string) (*TaskView, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.taskKey(id)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	progress, _ := strconv.Atoi(fields["progress"])
	return &TaskView{
		Status:      api.Status(fields["status"]),
		CurrentStep: api.Step(fields["current_step"]),
		Progress:    progress,
		Error:       fields["error"],
	}, true, nil
}

// QueueGauges returns the mirrored queue status. Absent gauges read as
// zero.
func (c *StatusCache) QueueGauges(ctx context.Context) (api.QueueStatus, error) {
	vals, err := c.client.MGet(ctx,
		c.gaugeKey("running"),
		c.gaugeKey("queued"),
		c.gaugeKey("max_concurrent"),
	).Result()
	if err != nil {
		return api.QueueStatus{}, err
	}
	return api.QueueStatus{
		Running:       gaugeInt(vals[0]),
		Queued:        gaugeInt(vals[1]),
		MaxConcurrent: gaugeInt(vals[2]),
	}, nil
}

func gaugeInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func (c *StatusCache) writeTask(ctx context.Context, t *api.Task) {
	key := c.taskKey(t.ID)
	fields := map[string]any{
		"status":       string(t.Status),
		"current_step": t.CurrentStep.String(),
		"progress":     t.Progress,
		"error":        t.ErrorMessage,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("status cache write failed", "task_id", t.ID, "error", err)
	}
}

func (c *StatusCache) OnTaskStart(ctx context.Context, t *api.Task) {
	c.writeTask(ctx, t)
}

func (c *StatusCache) OnStepStart(ctx context.Context, t *api.Task, step api.Step, idx int) {
	c.writeTask(ctx, t)
}

func (c *StatusCache) OnTaskCompleted(ctx context.Context, t *api.Task) {
	c.writeTask(ctx, t)
}

func (c *StatusCache) OnTaskFailed(ctx context.Context, t *api.Task, err error) {
	c.writeTask(ctx, t)
}

func (c *StatusCache) OnTaskInterrupted(ctx context.Context, t *api.Task, reason string) {
	c.writeTask(ctx, t)
}

func (c *StatusCache) OnQueueChanged(ctx context.Context, qs api.QueueStatus) {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.gaugeKey("running"), qs.Running, c.ttl)
	pipe.Set(ctx, c.gaugeKey("queued"), qs.Queued, c.ttl)
	pipe.Set(ctx, c.gaugeKey("max_concurrent"), qs.MaxConcurrent, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("queue gauge write failed", "error", err)
	}
}
