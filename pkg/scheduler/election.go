package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	leaderKey     = "scheduler:leader"
	leaseTTL      = 10 * time.Second
	renewInterval = 3 * time.Second
)

// campaignScript takes a free lease or extends one this instance holds.
// KEYS[1] lease key, ARGV[1] instance id, ARGV[2] ttl in milliseconds.
var campaignScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only when this instance holds it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderElector holds a Redis lease so that one scheduler instance enqueues
// scheduled runs
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	// Promoted signals when this instance gains leadership
	Promoted() <-chan struct{}
	// Demoted signals when this instance loses leadership
	Demoted() <-chan struct{}
}

type leaseElector struct {
	log      logrus.FieldLogger
	redis    *redis.Client
	id       string
	key      string
	leader   atomic.Bool
	promoted chan struct{}
	demoted  chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLeaderElector creates an elector competing for {prefix}:scheduler:leader.
// The client is shared and stays open after Stop.
func NewLeaderElector(log logrus.FieldLogger, client *redis.Client, prefix string) LeaderElector {
	id := uuid.New().String()

	return &leaseElector{
		log:      log.WithFields(logrus.Fields{"component": "election", "instance_id": id}),
		redis:    client,
		id:       id,
		key:      chfsredis.PrefixKey(prefix, leaderKey),
		promoted: make(chan struct{}, 1),
		demoted:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start campaigns immediately, then renews the lease in the background
func (e *leaseElector) Start(ctx context.Context) error {
	e.log.Info("Starting leader election")

	e.campaign(ctx)

	e.wg.Add(1)
	go e.run(ctx)

	return nil
}

// Stop ends the campaign and releases a held lease
func (e *leaseElector) Stop() error {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()

		if e.leader.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), renewInterval)
			defer cancel()

			if err := releaseScript.Run(ctx, e.redis, []string{e.key}, e.id).Err(); err != nil {
				e.log.WithError(err).Warn("Failed to release leader lease")
			}

			e.leader.Store(false)
		}

		e.log.Info("Leader election stopped")
	})

	return nil
}

func (e *leaseElector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

// campaign takes or renews the lease and signals leadership changes. A
// Redis error counts as a lost lease.
func (e *leaseElector) campaign(ctx context.Context) {
	held, err := campaignScript.Run(ctx, e.redis, []string{e.key}, e.id, leaseTTL.Milliseconds()).Int()
	if err != nil {
		e.log.WithError(err).Debug("Failed to campaign for leader lease")
	}

	isLeader := err == nil && held == 1
	if e.leader.Swap(isLeader) == isLeader {
		return
	}

	if isLeader {
		e.log.Info("Promoted to leader")
		notify(e.promoted)

		return
	}

	e.log.Info("Demoted from leader")
	notify(e.demoted)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (e *leaseElector) IsLeader() bool {
	return e.leader.Load()
}

func (e *leaseElector) Promoted() <-chan struct{} {
	return e.promoted
}

func (e *leaseElector) Demoted() <-chan struct{} {
	return e.demoted
}

var _ LeaderElector = (*leaseElector)(nil)
