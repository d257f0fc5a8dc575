package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes scheduler sweeps across instances.
type Locker interface {
	// Acquire returns ok=false when another holder has the lock. On success
	// the returned release function frees it.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX mutex. Transitions are guarded by dedup and
// compare-and-set rules anyway, so the lock is about avoiding wasted work,
// not correctness.
type RedisLocker struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, key, holder string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, holder: holder, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(), bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Best effort; the TTL frees the lock if this fails.
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err()
	}
	return release, true, nil
}

// Schedule is the scheduler's explicit trigger configuration, passed in at
// startup so multiple schedules can be tested in isolation.
type Schedule struct {
	SweepInterval time.Duration
}

// Scheduler drives time-based work: campaign end transitions and expired
// lease recovery. It is idempotent per tick and safe to run from more than
// one instance, though a single instance is the intended deployment.
type Scheduler struct {
	schedule   Schedule
	campaigns  *CampaignService
	dispatcher *Dispatcher
	locker     Locker
	log        *zap.Logger
}

func NewScheduler(schedule Schedule, campaigns *CampaignService, dispatcher *Dispatcher, locker Locker, log *zap.Logger) *Scheduler {
	return &Scheduler{
		schedule:   schedule,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		locker:     locker,
		log:        log,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.schedule.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick runs one sweep if the lock can be taken.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	release, ok, err := s.locker.Acquire(ctx)
	if err != nil {
		s.log.Error("scheduler lock acquire failed", zap.Error(err))
		return
	}
	if !ok {
		s.log.Debug("scheduler lock held elsewhere, skipping sweep")
		return
	}
	defer release()

	ended, err := s.campaigns.EndDue(ctx, now)
	if err != nil {
		s.log.Error("campaign sweep failed", zap.Error(err))
	}

	reaped, err := s.dispatcher.ReapExpiredLeases(ctx, now)
	if err != nil {
		s.log.Error("lease reaping failed", zap.Error(err))
	}

	if ended > 0 || reaped > 0 {
		s.log.Info("scheduler sweep",
			zap.Int("campaigns_ended", ended),
			zap.Int64("leases_reaped", reaped),
		)
	}
}
