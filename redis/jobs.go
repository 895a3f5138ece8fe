package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/secfix-research/maintscan/logging"
	"github.com/sirupsen/logrus"
)

const (
	JobsStream = "maintscan:jobs"
	JobsGroup  = "analyzers"
)

// Queue distributes analysis jobs through a Redis stream consumer group.
type Queue struct {
	rdb      *redis.Client
	Stream   string
	Group    string
	Consumer string
	// Block bounds each XREADGROUP call.
	Block time.Duration
	Log   logrus.FieldLogger
}

func NewQueue(rdb *redis.Client, consumer string, log logrus.FieldLogger) *Queue {
	if log == nil {
		log = logging.Discard()
	}
	return &Queue{
		rdb:      rdb,
		Stream:   JobsStream,
		Group:    JobsGroup,
		Consumer: consumer,
		Block:    5 * time.Second,
		Log:      log,
	}
}

// EnsureGroup creates the stream and its consumer group if needed.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.Stream, q.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", q.Stream, q.Group, err)
	}
	return nil
}

// Enqueue appends a job to the stream.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"owner": job.Owner, "project": job.Project, "sha": job.SHA},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", q.Stream, err)
	}
	return id, nil
}

// Watch hands jobs to handle one at a time until ctx is done. A job is
// acknowledged only when handle succeeds; failed jobs stay pending.
func (q *Queue) Watch(ctx context.Context, handle func(context.Context, Job) error) error {
	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.Group,
			Consumer: q.Consumer,
			Streams:  []string{q.Stream, ">"},
			Count:    10,
			Block:    q.Block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.Log.WithError(err).Error("reading from stream")
			select {
			case <-time.After(backoff):
				if backoff < 3*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			backoff = 100 * time.Millisecond
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				log := q.Log.WithField("id", msg.ID)
				job, err := parseJob(msg)
				if err != nil {
					log.WithError(err).Error("dropping malformed job")
					q.ack(ctx, msg.ID)
					continue
				}
				if err := handle(ctx, job); err != nil {
					log.WithError(err).WithField("sha", job.SHA).Error("job failed")
					continue
				}
				q.ack(ctx, msg.ID)
			}
		}
	}
}

func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(context.WithoutCancel(ctx), q.Stream, q.Group, id).Err(); err != nil {
		q.Log.WithError(err).WithField("id", id).Error("acknowledging message")
	}
}

// Pending counts delivered but unacknowledged jobs.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	p, err := q.rdb.XPending(ctx, q.Stream, q.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", q.Stream, err)
	}
	return p.Count, nil
}

func parseJob(msg redis.XMessage) (Job, error) {
	get := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	job := Job{Owner: get("owner"), Project: get("project"), SHA: get("sha")}
	if job.Owner == "" || job.Project == "" || job.SHA == "" {
		return Job{}, fmt.Errorf("incomplete job %v", msg.Values)
	}
	return job, nil
}
