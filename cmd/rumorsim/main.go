// Command rumorsim runs a rumor-routing sensor network simulation and prints
// a summary of how requests fared.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/internal/config"
	"github.com/signalsfoundry/rumor-routing-sim/internal/control"
	"github.com/signalsfoundry/rumor-routing-sim/internal/journal"
	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/internal/observability"
	"github.com/signalsfoundry/rumor-routing-sim/internal/store"
	"github.com/signalsfoundry/rumor-routing-sim/kb"
	"github.com/signalsfoundry/rumor-routing-sim/timectrl"
	"github.com/signalsfoundry/rumor-routing-sim/topology"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "rumorsim:", err)
		os.Exit(1)
	}
}

// options holds command-line values. Only flags that were set override the
// configuration file.
type options struct {
	configPath  string
	topology    string
	grid        string
	ticks       int
	rate        float64
	seed        int64
	metricsAddr string
	grpcAddr    string
	journal     string
	db          string
	dump        bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rumorsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.topology, "topology", "", "topology file with one x;y;signal;agentLife;requestLife record per line")
	fs.StringVar(&o.grid, "grid", "", "generate a WxH grid instead of reading a topology file")
	fs.IntVar(&o.ticks, "ticks", 0, "number of ticks to run")
	fs.Float64Var(&o.rate, "rate", 0, "ticks per second, 0 for unthrottled")
	fs.Int64Var(&o.seed, "seed", 0, "random seed, 0 for a time-based seed")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	fs.StringVar(&o.grpcAddr, "grpc-addr", "", "TCP address for the gRPC control server")
	fs.StringVar(&o.journal, "journal", "", "write outcomes to this msgpack journal")
	fs.StringVar(&o.db, "db", "", "record outcomes in this SQLite database")
	fs.BoolVar(&o.dump, "dump", false, "print the topology in file format and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overlays explicitly set flags onto cfg.
func (o options) apply(cfg *config.Config) error {
	if o.set["topology"] {
		cfg.Topology.File = o.topology
	}
	if o.set["grid"] {
		w, h, err := parseGrid(o.grid)
		if err != nil {
			return err
		}
		cfg.Topology.File = ""
		cfg.Topology.Grid.Width, cfg.Topology.Grid.Height = w, h
	}
	if o.set["ticks"] {
		cfg.Field.UpdateLimit = o.ticks
	}
	if o.set["rate"] {
		cfg.Run.Rate = o.rate
	}
	if o.set["seed"] {
		cfg.Run.Seed = o.seed
	}
	if o.set["metrics-addr"] {
		cfg.Sinks.MetricsAddr = o.metricsAddr
	}
	if o.set["grpc-addr"] {
		cfg.Sinks.GRPCAddr = o.grpcAddr
	}
	if o.set["journal"] {
		cfg.Sinks.Journal = o.journal
	}
	if o.set["db"] {
		cfg.Sinks.Database = o.db
	}
	return nil
}

func parseGrid(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: grid %q is not WxH", core.ErrInvalidConfig, s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: grid width %q: %w", core.ErrInvalidConfig, ws, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: grid height %q: %w", core.ErrInvalidConfig, hs, err)
	}
	return w, h, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := opts.apply(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := cfg.ReaderMode()
	if err != nil {
		return err
	}

	nodes, err := cfg.Generator().Generate()
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	if opts.dump {
		return topology.Encode(stdout, nodes)
	}

	logCfg := cfg.Logging()
	logCfg.Output = stderr
	ctx, log := logging.WithRunLogger(ctx, logging.New(logCfg))
	runID := logging.RunIDFromContext(ctx)

	tracingCfg := cfg.Tracing
	tracingCfg.Output = stderr
	stopTracing, err := observability.InitTracing(ctx, tracingCfg, runID, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer stopTracing()

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	seed := cfg.Run.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	field, err := core.NewField(cfg.CoreField(),
		core.WithLogger(log),
		core.WithMetrics(simMetrics),
		core.WithSeed(seed),
	)
	if err != nil {
		return err
	}
	if err := field.LoadTopology(nodes); err != nil {
		return err
	}
	graph := topology.NewGraph(nodes)

	ledger := kb.NewLedger()
	ledger.Attach(field.Nodes(), field, mode)

	pacer := timectrl.NewPacer(cfg.Run.Rate, log)

	outputs, err := openSinks(ctx, cfg, runID, seed, len(nodes), ledger, pacer, log)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Sinks.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Sinks.MetricsAddr, Handler: metricsMux(simMetrics), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Sinks.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Sinks.GRPCAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			outputs.close(ctx)
			return fmt.Errorf("listen for gRPC: %w", err)
		}
		ctrl := control.NewServer(log, rpcMetrics)
		pacer.AddListener(ctrl.Listener(field))
		g.Go(func() error { return ctrl.Serve(gctx, lis) })
	}

	g.Go(func() error {
		// Servers live as long as the simulation.
		defer cancel()
		err := pacer.Run(gctx, field)
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil
		}
		return err
	})

	runErr := g.Wait()
	sinkErr := outputs.close(ctx)

	log.Info(ctx, "run complete",
		logging.Int("ticks", pacer.Ticks()),
		logging.Int("outcomes", len(ledger.List())),
	)
	printSummary(stdout, runID, field, ledger, graph)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return sinkErr
}

func metricsMux(c *observability.SimCollector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

// sinks fans ledger records out to the optional journal and database.
type sinks struct {
	log   logging.Logger
	runID string

	journal *journal.Writer
	db      *store.Store

	mu      sync.Mutex
	pending []kb.Record
	unsub   []func()
}

func openSinks(ctx context.Context, cfg config.Config, runID string, seed int64, nodeCount int, ledger *kb.Ledger, pacer *timectrl.Pacer, log logging.Logger) (*sinks, error) {
	s := &sinks{log: log, runID: runID}
	source := describeSource(cfg)

	if path := cfg.Sinks.Journal; path != "" {
		w, err := journal.Create(path, journal.Header{RunID: runID, Topology: source, Seed: seed, Nodes: nodeCount}, cfg.Sinks.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = w
		s.unsub = append(s.unsub, ledger.Subscribe(func(r kb.Record) {
			if err := w.Append(r); err != nil {
				log.Warn(ctx, "journal append failed", logging.Err(err))
			}
		}))
		log.Info(ctx, "journaling outcomes", logging.String("path", path))
	}

	if path := cfg.Sinks.Database; path != "" {
		db, err := store.Open(path)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		if err := db.BeginRun(ctx, store.Run{ID: runID, Topology: source, Seed: seed}); err != nil {
			db.Close()
			s.close(ctx)
			return nil, err
		}
		s.db = db
		s.unsub = append(s.unsub, ledger.Subscribe(func(r kb.Record) {
			s.mu.Lock()
			s.pending = append(s.pending, r)
			s.mu.Unlock()
		}))
		pacer.AddListener(func(int) {
			if err := s.flush(ctx); err != nil {
				log.Warn(ctx, "store flush failed", logging.Err(err))
			}
		})
		log.Info(ctx, "recording outcomes", logging.String("db", path))
	}
	return s, nil
}

// flush writes buffered records to the database in one transaction.
func (s *sinks) flush(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	return s.db.Save(ctx, s.runID, batch...)
}

func (s *sinks) close(ctx context.Context) error {
	for _, unsub := range s.unsub {
		unsub()
	}
	var errs []error
	if s.db != nil {
		errs = append(errs, s.flush(context.WithoutCancel(ctx)), s.db.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return errors.Join(errs...)
}

func describeSource(cfg config.Config) string {
	if cfg.Topology.File != "" {
		return cfg.Topology.File
	}
	return fmt.Sprintf("grid %dx%d", cfg.Topology.Grid.Width, cfg.Topology.Grid.Height)
}

func printSummary(w io.Writer, runID string, field *core.Field, ledger *kb.Ledger, graph *topology.Graph) {
	counts := ledger.Counts()
	comps := graph.Components()
	largest := 0
	if len(comps) > 0 {
		largest = len(comps[0])
	}

	fmt.Fprintf(w, "run          %s\n", runID)
	fmt.Fprintf(w, "ticks        %d\n", field.CurrentTime())
	fmt.Fprintf(w, "nodes        %d (components %d, largest %d, isolated %d)\n",
		graph.Len(), len(comps), largest, len(graph.Isolated()))
	fmt.Fprintf(w, "requests     succeeded %d, expired %d, abandoned %d\n",
		counts[kb.RequestSucceeded], counts[kb.RequestExpired], counts[kb.RequestAbandoned])
	fmt.Fprintf(w, "agents       expired %d\n", counts[kb.AgentExpired])
}
