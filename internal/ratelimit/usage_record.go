package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omnifin/platform/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyUsageRecordGroup = "usage:record:group:%s"
	keyWorkflowLock     = "workflow:lock:application:%s"
)

// UsageRecordLimiter throttles token usage ingestion per group and
// serializes workflow writes per application across replicas.
type UsageRecordLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	groupRate  float64
	groupBurst int
	lockTTL    time.Duration
}

func NewUsageRecordLimiter(cfg config.Config) (*UsageRecordLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.UsageRecordRate <= 0 || limitCfg.UsageRecordBurst <= 0 {
		return nil, errors.New("usage record rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &UsageRecordLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		groupRate:  limitCfg.UsageRecordRate,
		groupBurst: limitCfg.UsageRecordBurst,
		lockTTL:    time.Duration(limitCfg.WorkflowLockTTLSec) * time.Second,
	}, nil
}

func (l *UsageRecordLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *UsageRecordLimiter) AllowGroup(ctx context.Context, groupID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageRecordGroup, strings.TrimSpace(groupID)), l.groupRate, l.groupBurst)
}

func (l *UsageRecordLimiter) TryLockApplication(ctx context.Context, applicationID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyWorkflowLock, strings.TrimSpace(applicationID))
	return l.locker.TryLock(ctx, key, l.lockTTL)
}

func (l *UsageRecordLimiter) ReleaseApplication(ctx context.Context, applicationID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyWorkflowLock, strings.TrimSpace(applicationID))
	return l.locker.Release(ctx, key, token)
}
