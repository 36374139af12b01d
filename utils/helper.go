package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool, len(slice))
	result := make([]T, 0, len(slice))
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

// DateOnly truncates to midnight UTC. Financial year boundaries and
// transaction dates are calendar dates, not instants.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// GetCacheLifespan is the default TTL for derived redis cache entries.
func GetCacheLifespan() time.Duration {
	return 10 * time.Minute
}

// TenantLock obtains a best-effort distributed lock for the tenant and returns
// a release func. Reliability must not depend on Redis: posting is also
// serialized via MySQL advisory locks in workflow.AcquireTenantPostingLock.
func TenantLock(ctx context.Context, tenantId string, lockType string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis lock not initialized (dev, tests). The advisory lock still guards posting.
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, tenantId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for tenantId", tenantId, err)
		return nil, ErrorTenantBusy
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for tenantId", tenantId, err)
		return nil, err
	}
	return func() {
		_ = lock.Release(ctx)
	}, nil
}
