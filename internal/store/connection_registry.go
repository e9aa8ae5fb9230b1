package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionRegistry tracks every live connection, with a per-session
// set as the secondary index so listener scans never touch the whole
// keyspace.
type ConnectionRegistry struct {
	client  *redis.Client
	log     *logger.Logger
	timeout time.Duration
}

// NewConnectionRegistry creates a registry backed by the given client
func NewConnectionRegistry(client *redis.Client, log *logger.Logger, timeout time.Duration) *ConnectionRegistry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ConnectionRegistry{client: client, log: log, timeout: timeout}
}

func connectionKey(connectionID string) string {
	return fmt.Sprintf("conn:%s", connectionID)
}

func sessionConnectionsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:conns", sessionID)
}

// Put registers or refreshes a connection record and indexes it under
// its session
func (r *ConnectionRegistry) Put(ctx context.Context, conn *models.Connection) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}

	ttl := conn.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, connectionKey(conn.ConnectionID), data, ttl)
	if conn.SessionID != "" {
		pipe.SAdd(ctx, sessionConnectionsKey(conn.SessionID), conn.ConnectionID)
		pipe.Expire(ctx, sessionConnectionsKey(conn.SessionID), ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get fetches a connection record by ID
func (r *ConnectionRegistry) Get(ctx context.Context, connectionID string) (*models.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, connectionKey(connectionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch connection: %w", err)
	}

	var conn models.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("failed to decode connection: %w", err)
	}
	return &conn, nil
}

// UpdateLanguage switches a listener's target language. Only the owning
// listener's own control action reaches this path.
func (r *ConnectionRegistry) UpdateLanguage(ctx context.Context, connectionID, targetLanguage string) (*models.Connection, error) {
	conn, err := r.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	conn.TargetLanguage = targetLanguage
	if err := r.Put(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Remove drops a connection record and its index entry
func (r *ConnectionRegistry) Remove(ctx context.Context, connectionID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, connectionKey(connectionID))
	if sessionID != "" {
		pipe.SRem(ctx, sessionConnectionsKey(sessionID), connectionID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Query returns every live connection of a session. Index entries whose
// record already expired are pruned as they are discovered.
func (r *ConnectionRegistry) Query(ctx context.Context, sessionID string) ([]*models.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, sessionConnectionsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan session connections: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = connectionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session connections: %w", err)
	}

	conns := make([]*models.Connection, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var conn models.Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		conns = append(conns, &conn)
	}

	if len(stale) > 0 {
		r.client.SRem(ctx, sessionConnectionsKey(sessionID), stale...)
	}

	return conns, nil
}

// Listeners returns only the listener connections of a session
func (r *ConnectionRegistry) Listeners(ctx context.Context, sessionID string) ([]*models.Connection, error) {
	conns, err := r.Query(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	listeners := conns[:0]
	for _, c := range conns {
		if c.Role == models.RoleListener {
			listeners = append(listeners, c)
		}
	}
	return listeners, nil
}
