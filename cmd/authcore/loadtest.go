package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	mathrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/internal/stores"
	"github.com/codicle/authcore/notify"
	"github.com/codicle/authcore/session"
)

type loadtestConfig struct {
	records     int
	concurrency int
	ops         int
	redisAddr   string
}

// NewLoadtestCmd creates the loadtest subcommand.
func NewLoadtestCmd() *cobra.Command {
	cfg := loadtestConfig{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure code consumption and session refresh throughput",
		Long: `Seed signup codes and consume each one exactly once, then refresh
local session tokens concurrently. Uses an in-process Redis unless
--redis-addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.records <= 0 || cfg.concurrency <= 0 || cfg.ops <= 0 {
				return oops.Code("CONFIG_INVALID").Errorf("records, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.records, "records", 20000, "signup codes and sessions to seed")
	cmd.Flags().IntVar(&cfg.concurrency, "concurrency", 64, "concurrent workers")
	cmd.Flags().IntVar(&cfg.ops, "ops", 50000, "refresh operations")
	cmd.Flags().StringVar(&cfg.redisAddr, "redis-addr", "", "Redis address (default: in-process)")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, cfg loadtestConfig) error {
	addr := cfg.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return oops.Code("REDIS_UNAVAILABLE").With("operation", "start embedded redis").Wrap(err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer func() { _ = client.Close() }()

	codes := stores.NewOTPStore(client, "aclt")
	emails := make([]string, cfg.records)
	fmt.Fprintf(out, "seeding %d signup codes...\n", cfg.records)
	startSeed := time.Now()
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@loadtest.invalid", i)
		if err := codes.Save(ctx, emails[i], codeFor(i), time.Hour); err != nil {
			return oops.Code("SEED_FAILED").With("index", i).Wrap(err)
		}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	consumeStats := runConsumePhase(ctx, codes, emails, cfg.concurrency)

	engine, tokens, err := seedSessions(client, cfg.records)
	if err != nil {
		return err
	}
	defer engine.Close()
	refreshStats := runRefreshPhase(ctx, engine, tokens, cfg.ops, cfg.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "consume", consumeStats)
	printStats(out, "refresh", refreshStats)
	return nil
}

func seedSessions(client redis.UniversalClient, n int) (*authcore.Engine, []string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, oops.Code("KEY_GENERATION_FAILED").Wrap(err)
	}
	cfg := authcore.DefaultConfig()
	cfg.Session.PrivateKey = priv
	cfg.Session.PublicKey = pub
	cfg.Store.OTPPrefix = "aclto"
	cfg.Store.ResetPrefix = "acltr"

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityStore(identity.NewMemoryStore()).
		WithNotifier(&notify.Recorder{}).
		Build()
	if err != nil {
		return nil, nil, oops.Code("ENGINE_INVALID").Wrap(err)
	}

	tokens := make([]string, n)
	for i := range tokens {
		tok, err := engine.IssueToken(session.Local(fmt.Sprintf("id-%d", i), "Load", fmt.Sprintf("user-%d@loadtest.invalid", i)))
		if err != nil {
			engine.Close()
			return nil, nil, oops.Code("SEED_FAILED").With("index", i).Wrap(err)
		}
		tokens[i] = tok.Value
	}
	return engine, tokens, nil
}

// runConsumePhase consumes every seeded code exactly once. Any failure
// means a record went missing.
func runConsumePhase(ctx context.Context, codes *stores.OTPStore, emails []string, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(emails))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(emails) {
					return
				}
				t0 := time.Now()
				_, err := codes.Consume(ctx, emails[i], codeFor(i))
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *authcore.Engine, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, _, err := engine.Refresh(ctx, tokens[r.Intn(len(tokens))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
		return phaseStats{total: total, failures: failures}
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

// percentile expects sorted samples.
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
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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

func codeFor(i int) string {
	return fmt.Sprintf("%06d", (i*7919)%1000000)
}
