package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	idrange "go-idrange"
	"go-idrange/config"
	"go-idrange/httpapi"
	"go-idrange/membus"
	"go-idrange/pgbus"
)

const (
	demoRangeSize = 100
	stopTimeout   = 5 * time.Second
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "idnode",
		Short: "A leaderless id range allocation node",
		Long: `Idnode is a demonstration of the go-idrange library.
It joins an allocation session, negotiates id ranges with the other peers
of the session and hands out ids from the ranges it owns.`,
		RunE:         runNode,
		SilenceUsage: true,
	}
	config.RegisterFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// demo holds what the keyboard controls act on.
type demo struct {
	node   *idrange.Node
	cfg    *config.Config
	logger *slog.Logger

	mu     sync.Mutex
	ranges []idrange.Range
}

func runNode(cmd *cobra.Command, _ []string) error {
	var cfg, err = config.Load(viper.New(), cmd.Flags())
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()

	// Logs go to stderr so they don't get cleared by status updates
	var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var (
		ctx      = context.Background()
		registry = prometheus.NewRegistry()
		peer     = idrange.PeerID(cfg.PeerID)
	)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var opts = []idrange.Option{
		idrange.WithLogger(logger),
		idrange.WithRegisterer(registry),
		idrange.WithRoundTimeout(cfg.RoundTimeout),
		idrange.WithTickInterval(cfg.TickInterval),
		idrange.WithAllocateRetries(cfg.AllocateRetries, cfg.RetryInterval),
	}

	var (
		transport idrange.InboundTransport
		leave     func(ctx context.Context) error
	)
	switch cfg.Transport {
	case config.TransportPostgres:
		fmt.Printf("Connecting to database...\n")
		var db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		var bus = pgbus.New(db, cfg.DatabaseURL, cfg.SessionID, peer,
			pgbus.WithLeaseTTL(cfg.LeaseTTL),
			pgbus.WithLogger(logger))
		fmt.Printf("Joining session '%s'...\n", cfg.SessionID)
		if err := bus.Start(ctx); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
		transport, leave = bus, bus.Stop
		opts = append(opts, idrange.WithAllocationStore(pgbus.NewStore(db, cfg.SessionID)))

	case config.TransportMemory:
		var member, err = membus.NewHub(logger).Join(peer)
		if err != nil {
			return err
		}
		transport = member
		leave = func(context.Context) error {
			member.Leave()
			return nil
		}
	}

	var node = idrange.NewNode(transport, opts...)
	for _, pool := range cfg.Pools {
		if err := node.RegisterPool(ctx, pool.Name, pool.MinIdx, pool.MaxIdx); err != nil {
			return fmt.Errorf("failed to register pool %s: %w", pool, err)
		}
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	fmt.Printf("✓ Node %s is running!\n\n", peer)

	var (
		g, gctx = errgroup.WithContext(ctx)
		server  *httpapi.Server
	)
	if cfg.HTTPAddr != "" {
		server = httpapi.NewServer(cfg.HTTPAddr, node, registry, logger)
		g.Go(server.Start)
	}

	var d = &demo{node: node, cfg: cfg, logger: logger}
	var loopErr = d.loop(gctx)

	fmt.Printf("\n\nShutting down gracefully...\n")
	var stopCtx, cancel = context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(stopCtx); err != nil {
			logger.Warn("failed to shut down http server", "error", err)
		}
	}
	if err := node.Stop(stopCtx); err != nil {
		logger.Warn("failed to stop node", "error", err)
	}
	if err := leave(stopCtx); err != nil {
		logger.Warn("failed to leave session", "error", err)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("http server failed: %w", err)
	}
	if loopErr == nil {
		fmt.Printf("✓ Gracefully left session\n")
	}
	return loopErr
}

// loop prints the status every second and reacts to keys until 'q' or ctx ends.
func (d *demo) loop(ctx context.Context) error {
	d.printStatus()

	var ticker = time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	// Set up signal handling for graceful shutdown
	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	var keyCh = make(chan rune)
	go func() {
		for {
			char, _, err := keyboard.GetKey()
			if err != nil {
				return
			}
			keyCh <- char
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.printStatus()
		case sig := <-sigCh:
			fmt.Printf("\n\nReceived signal %v\n", sig)
			return nil
		case key := <-keyCh:
			switch key {
			case 'a', 'A':
				go d.allocate(ctx)
			case 'e', 'E':
				go d.allocEntry(ctx)
			case 'c', 'C':
				fmt.Printf("\n\n💥 Crashing immediately (no cleanup)...\n")
				os.Exit(1)
			case 'q', 'Q':
				return nil
			}
		}
	}
}

func (d *demo) allocate(ctx context.Context) {
	var pool = d.cfg.Pools[0].Name
	var rng, err = d.node.Allocate(ctx, pool, demoRangeSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to allocate from %s: %v\n", pool, err)
		return
	}

	d.mu.Lock()
	d.ranges = append(d.ranges, rng)
	d.mu.Unlock()
	fmt.Fprintf(os.Stderr, "✓ Allocated %s\n", rng)
}

// allocEntry grants an id from the newest range that still has one.
func (d *demo) allocEntry(ctx context.Context) {
	d.mu.Lock()
	var ranges = append([]idrange.Range(nil), d.ranges...)
	d.mu.Unlock()

	for i := len(ranges) - 1; i >= 0; i-- {
		var id, err = d.node.AllocEntry(ctx, ranges[i].Name)
		if err == nil {
			fmt.Fprintf(os.Stderr, "✓ Granted id %d from %s\n", id, ranges[i])
			return
		}
		d.logger.Debug("range cannot grant an id", "range", ranges[i].String(), "error", err)
	}
	fmt.Fprintf(os.Stderr, "❌ No owned range has a free id, press [a] to allocate one\n")
}

func (d *demo) printStatus() {
	fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top
	fmt.Println(d.node.String())

	fmt.Printf("\nControls:\n")
	fmt.Printf("  [a] Allocate %d ids from %s\n", demoRangeSize, d.cfg.Pools[0].Name)
	fmt.Printf("  [e] Grant one id from an owned range\n")
	fmt.Printf("  [c] Crash without cleanup\n")
	fmt.Printf("  [q] Quit gracefully\n")
}
