package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/course-automation/internal/models"
)

// FiringRepository records (rule, session) pairs in Postgres.
type FiringRepository struct {
	db *sqlx.DB
}

// NewFiringRepository constructs the Postgres firing store.
func NewFiringRepository(db *sqlx.DB) *FiringRepository {
	return &FiringRepository{db: db}
}

// Claim inserts the marker and reports whether this caller was first.
func (r *FiringRepository) Claim(ctx context.Context, ruleID, sessionID string, firedAt time.Time) (bool, error) {
	const query = `INSERT INTO automation_firings (rule_id, session_id, fired_at)
VALUES (:rule_id, :session_id, :fired_at)
ON CONFLICT (rule_id, session_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, models.Firing{RuleID: ruleID, SessionID: sessionID, FiredAt: firedAt.UTC()})
	if err != nil {
		return false, fmt.Errorf("claim firing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim firing rows affected: %w", err)
	}
	return affected > 0, nil
}

// RedisFiringRepository records firing markers with SETNX and a TTL.
type RedisFiringRepository struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisFiringRepository constructs the Redis firing store.
func NewRedisFiringRepository(client *redis.Client, ttl time.Duration) *RedisFiringRepository {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisFiringRepository{client: client, ttl: ttl, prefix: "automation:firing:"}
}

// Claim sets the marker key only if absent.
func (r *RedisFiringRepository) Claim(ctx context.Context, ruleID, sessionID string, firedAt time.Time) (bool, error) {
	key := r.prefix + ruleID + ":" + sessionID
	ok, err := r.client.SetNX(ctx, key, firedAt.UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Close releases the underlying Redis connection.
func (r *RedisFiringRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
