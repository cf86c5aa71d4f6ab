package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/objperm"
	"github.com/MrEthical07/objperm/record/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var loadtestPermissions = []string{"view", "comment", "edit", "publish", "delete", "share"}

type loadtestConfig struct {
	actors      int
	groups      int
	instances   int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func main() {
	var cfg loadtestConfig

	flagSet := pflag.NewFlagSet("objperm-loadtest", pflag.ExitOnError)
	flagSet.IntVar(&cfg.actors, "actors", 10000, "number of actors")
	flagSet.IntVar(&cfg.groups, "groups", 100, "number of groups; every actor joins one")
	flagSet.IntVar(&cfg.instances, "instances", 1000, "number of object instances")
	flagSet.IntVar(&cfg.concurrency, "concurrency", 256, "number of concurrent workers")
	flagSet.IntVar(&cfg.ops, "ops", 200000, "operations per phase (grant + check)")
	flagSet.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flagSet.StringVar(&cfg.prefix, "prefix", "op", "redis key prefix")
	_ = flagSet.Parse(os.Args[1:])

	if cfg.actors <= 0 || cfg.groups <= 0 || cfg.instances <= 0 || cfg.concurrency <= 0 || cfg.ops <= 0 {
		fmt.Fprintln(os.Stderr, "actors, groups, instances, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	if err := run(context.Background(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg loadtestConfig) error {
	addr := cfg.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engineCfg := objperm.DefaultConfig()
	engineCfg.Store.RedisPrefix = cfg.prefix
	engineCfg.Metrics.EnableLatencyHistograms = true

	engine, err := objperm.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithTypes("document", loadtestPermissions...).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	membership := redisstore.NewMembership(client, cfg.prefix)
	fmt.Printf("seeding %d actors into %d groups...\n", cfg.actors, cfg.groups)
	startSeed := time.Now()
	for i := 0; i < cfg.actors; i++ {
		if err := membership.AddMember(ctx, groupID(i%cfg.groups), actorID(i)); err != nil {
			return fmt.Errorf("seed membership: %w", err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	grantStats, err := runPhase(ctx, cfg, func(r *rand.Rand) error {
		subject := objperm.Actor(actorID(r.Intn(cfg.actors)))
		if r.Intn(4) == 0 {
			subject = objperm.Group(groupID(r.Intn(cfg.groups)))
		}
		perm := loadtestPermissions[r.Intn(len(loadtestPermissions))]
		_, err := engine.Grant(ctx, subject, instance(r.Intn(cfg.instances)), perm)
		return err
	})
	if err != nil {
		return err
	}

	checkStats, err := runPhase(ctx, cfg, func(r *rand.Rand) error {
		subject := objperm.Actor(actorID(r.Intn(cfg.actors)))
		perm := loadtestPermissions[r.Intn(len(loadtestPermissions))]
		_, err := engine.Has(ctx, subject, instance(r.Intn(cfg.instances)), perm)
		return err
	})
	if err != nil {
		return err
	}

	snap := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("grant", grantStats)
	printStats("check", checkStats)
	fmt.Printf("checks: allowed=%d denied=%d store_failures=%d\n",
		snap.Counters[objperm.MetricCheckAllowed],
		snap.Counters[objperm.MetricCheckDenied],
		snap.Counters[objperm.MetricStoreFailure],
	)
	return nil
}

var errTooManyFailures = errors.New("more than half of the operations failed")

// runPhase spreads cfg.ops calls of op over cfg.concurrency workers.
func runPhase(ctx context.Context, cfg loadtestConfig, op func(r *rand.Rand) error) (phaseStats, error) {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, cfg.ops)
		mu        sync.Mutex
	)

	g, _ := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < cfg.concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, cfg.ops/cfg.concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= cfg.ops {
					break
				}
				t0 := time.Now()
				err := op(r)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}

	stats := computeStats(time.Since(start), latencies, failures)
	if failures*2 > int64(cfg.ops) {
		return stats, errTooManyFailures
	}
	return stats, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func actorID(i int) string { return fmt.Sprintf("actor-%d", i) }
func groupID(i int) string { return fmt.Sprintf("group-%d", i) }

func instance(i int) objperm.Ref {
	return objperm.Ref{Type: "document", ID: fmt.Sprintf("doc-%d", i)}
}
