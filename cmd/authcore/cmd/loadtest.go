package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ltSessions    int
	ltTokens      int
	ltConcurrency int
	ltOps         int
	ltInMemory    bool
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure session validation and racing token consumption",
	Long: `Seeds sessions and single-use tokens, then runs two phases:

  validate  random ValidateSession calls across all workers
  consume   every worker tries to consume every token

The consume phase fails the command unless each token was consumed exactly
once. With --in-memory the run uses an embedded Redis instead of the
configured backend.`,
	RunE: runLoadtest,
}

func init() {
	f := loadtestCmd.Flags()
	f.IntVar(&ltSessions, "sessions", 1000, "Sessions to seed")
	f.IntVar(&ltTokens, "tokens", 200, "Tokens to race on")
	f.IntVar(&ltConcurrency, "concurrency", 64, "Concurrent workers")
	f.IntVar(&ltOps, "ops", 20000, "ValidateSession calls in the validate phase")
	f.BoolVar(&ltInMemory, "in-memory", false, "Use an embedded Redis")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	if ltSessions <= 0 || ltTokens <= 0 || ltConcurrency <= 0 || ltOps <= 0 {
		return errors.New("sessions, tokens, concurrency and ops must be > 0")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	engine, cleanup, err := loadtestEngine(ctx, out)
	if err != nil {
		return err
	}
	defer cleanup()

	email := fmt.Sprintf("loadtest-%d@example.com", time.Now().UnixNano())
	user, err := engine.CreateUser(ctx, authcore.NewUser{Email: email, Password: "loadtest-password-1"})
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	defer func() { _ = engine.DeleteUser(context.Background(), user.ID) }()

	fmt.Fprintf(out, "seeding %d sessions...\n", ltSessions)
	startSeed := time.Now()
	sids := make([]string, ltSessions)
	for i := range sids {
		s, err := engine.CreateSession(ctx, user.ID, time.Hour)
		if err != nil {
			return fmt.Errorf("seed session: %w", err)
		}
		sids[i] = s.ID
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validate := runValidatePhase(ctx, engine, sids, ltOps, ltConcurrency)

	consume, violations, err := runConsumePhase(ctx, engine, user.ID, ltTokens, ltConcurrency)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validate)
	printStats(out, "consume", consume)
	if violations > 0 {
		return fmt.Errorf("%d of %d tokens were not consumed exactly once", violations, ltTokens)
	}
	fmt.Fprintf(out, "consume: all %d tokens consumed exactly once\n", ltTokens)
	return nil
}

func loadtestEngine(ctx context.Context, out io.Writer) (*authcore.Engine, func(), error) {
	if !ltInMemory {
		engine, _, cleanup, err := openEngine(ctx)
		return engine, cleanup, err
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())

	cfg := authcore.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	engine, err := authcore.New().
		WithConfig(cfg).
		WithAdapter(redisstore.New(rdb, redisstore.Options{Prefix: "loadtest"})).
		WithLogger(zap.NewNop()).
		Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, nil, err
	}
	return engine, func() {
		_ = engine.Close()
		_ = rdb.Close()
		mr.Close()
	}, nil
}

func runValidatePhase(ctx context.Context, engine *authcore.Engine, sids []string, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if atomic.AddInt64(&cursor, 1) > int64(ops) {
					return
				}
				sid := sids[r.Intn(len(sids))]
				t0 := time.Now()
				u, err := engine.ValidateSession(ctx, sid)
				d := time.Since(t0)
				if err != nil || u == nil {
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

// runConsumePhase has every worker attempt every token and returns how many
// tokens did not see exactly one successful consume.
func runConsumePhase(ctx context.Context, engine *authcore.Engine, userID string, tokens, concurrency int) (phaseStats, int, error) {
	values := make([]string, tokens)
	for i := range values {
		v, err := engine.CreateToken(ctx, authcore.TokenRequest{UserID: userID, Type: "loadtest", TTL: time.Hour})
		if err != nil {
			return phaseStats{}, 0, fmt.Errorf("seed token: %w", err)
		}
		values[i] = v
	}

	var (
		wins      = make([]int64, tokens)
		failures  int64
		latencies = make([]time.Duration, 0, tokens*concurrency)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			local := make([]time.Duration, 0, tokens)
			for i, v := range values {
				t0 := time.Now()
				res, err := engine.ConsumeToken(gctx, v, userID, "loadtest")
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				if res.OK {
					atomic.AddInt64(&wins[i], 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, 0, err
	}

	violations := 0
	for _, n := range wins {
		if n != 1 {
			violations++
		}
	}
	return computeStats(time.Since(start), latencies, failures), violations, nil
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

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
