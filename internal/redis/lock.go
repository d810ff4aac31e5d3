package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/models"
	"dance-ticketing/internal/utils"
)

const defaultLockTTL = 10 * time.Second

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TicketLock serialises ticket adjustments per customer across instances.
type TicketLock struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewTicketLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *TicketLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &TicketLock{Client: client, TTL: ttl, Logger: log}
}

func lockKey(customerID int64) string {
	return fmt.Sprintf("ticket_lock:%d", customerID)
}

// Lock takes the customer's lock. ok is false when another holder has it.
func (l *TicketLock) Lock(ctx context.Context, customerID int64) (token string, ok bool, err error) {
	token = utils.GenerateEventID()
	ok, err = l.Client.SetNX(ctx, lockKey(customerID), token, l.TTL).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Unlock releases the lock if token still owns it.
func (l *TicketLock) Unlock(ctx context.Context, customerID int64, token string) error {
	return unlockScript.Run(ctx, l.Client, []string{lockKey(customerID)}, token).Err()
}

// Acquire takes the lock or fails with models.ErrConcurrentAdjustment. The
// returned func releases it.
func (l *TicketLock) Acquire(ctx context.Context, customerID int64) (func(), error) {
	token, ok, err := l.Lock(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: ticket lock: %v", models.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", models.ErrConcurrentAdjustment, customerID)
	}

	return func() {
		// release even if the request context is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Unlock(releaseCtx, customerID, token); err != nil {
			l.Logger.Warn("REDIS", fmt.Sprintf("Failed to release ticket lock for customer %d: %v", customerID, err))
		}
	}, nil
}
