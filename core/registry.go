package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRegistry publishes agent registrations to Redis so a run's agent
// table is visible outside the process (implements AgentRegistry).
// Entries carry a TTL; a crashed run's records expire on their own.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    Logger
}

// NewRedisRegistry creates a registry client for the given Redis URL.
func NewRedisRegistry(redisURL, namespace string, ttl time.Duration) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", ErrConnectionFailed)
	}

	if namespace == "" {
		namespace = "agentbus"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisRegistry{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    &NoOpLogger{},
	}, nil
}

// SetLogger sets an optional logger for registry operations.
func (r *RedisRegistry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

func (r *RedisRegistry) key(name string) string {
	return fmt.Sprintf("%s:agents:%s", r.namespace, name)
}

// Register writes the agent record with the configured TTL.
func (r *RedisRegistry) Register(ctx context.Context, info *AgentInfo) error {
	if info == nil || info.Name == "" {
		return &BusError{Op: "registry.Register", Kind: "config", Err: ErrInvalidConfiguration, Message: "agent info must have a name"}
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal agent info: %w", err)
	}

	if err := r.client.Set(ctx, r.key(info.Name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register agent %s: %w", info.Name, err)
	}

	r.logger.Debug("Agent published to registry", map[string]interface{}{
		"agent":  info.Name,
		"run_id": info.RunID,
		"ttl":    r.ttl.String(),
	})
	return nil
}

// Unregister removes the agent record.
func (r *RedisRegistry) Unregister(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to unregister agent %s: %w", name, err)
	}
	return nil
}

// List returns every agent currently published under the namespace.
func (r *RedisRegistry) List(ctx context.Context) ([]*AgentInfo, error) {
	var infos []*AgentInfo

	iter := r.client.Scan(ctx, 0, fmt.Sprintf("%s:agents:*", r.namespace), 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read registry entry %s: %w", iter.Val(), err)
		}
		var info AgentInfo
		if err := json.Unmarshal(data, &info); err != nil {
			r.logger.Warn("Skipping corrupt registry entry", map[string]interface{}{
				"key":   iter.Val(),
				"error": err.Error(),
			})
			continue
		}
		infos = append(infos, &info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("registry scan failed: %w", err)
	}
	return infos, nil
}

// Close releases the underlying Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
