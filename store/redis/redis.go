// Package redis persists step results in Redis so finished output survives
// process restarts. Results are stored as JSON under step:<graph>:<node>
// with a configurable TTL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/canvasflow/core"
)

const stepPrefix = "step:"

// Options configures the Redis store.
type Options struct {
	// TTL bounds how long a saved result lives. Zero means no expiry.
	// Defaults to 24h.
	TTL time.Duration
}

// Store implements core.PlanStore on a Redis client.
type Store struct {
	client *redis.Client
	opts   Options
}

var _ core.PlanStore = (*Store)(nil)

// New connects to the given Redis URL (redis://...) and verifies the
// connection with a ping.
func New(ctx context.Context, redisURL string, optFns ...func(o *Options)) (*Store, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewFromClient(client, optFns...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{TTL: 24 * time.Hour}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, opts: opts}
}

// SaveStep implements core.PlanStore.
func (s *Store) SaveStep(ctx context.Context, result core.StepResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(result.GraphID, result.NodeID), data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	return nil
}

// GetStep loads a saved result. The second return is false when no result is
// stored for the node.
func (s *Store) GetStep(ctx context.Context, graphID, nodeID string) (core.StepResult, bool, error) {
	data, err := s.client.Get(ctx, s.key(graphID, nodeID)).Result()
	if err == redis.Nil {
		return core.StepResult{}, false, nil
	}
	if err != nil {
		return core.StepResult{}, false, fmt.Errorf("load step result: %w", err)
	}

	var result core.StepResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return core.StepResult{}, false, fmt.Errorf("unmarshal step result: %w", err)
	}
	return result, true, nil
}

// DeleteSteps removes all saved results for a graph.
func (s *Store) DeleteSteps(ctx context.Context, graphID string) error {
	iter := s.client.Scan(ctx, 0, stepPrefix+graphID+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan step results: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete step results: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(graphID, nodeID string) string {
	return stepPrefix + graphID + ":" + nodeID
}
