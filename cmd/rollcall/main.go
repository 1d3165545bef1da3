package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Rollcall/internal/config"
	"github.com/BrandonDHaskell/Rollcall/internal/health"
	"github.com/BrandonDHaskell/Rollcall/internal/httpapi"
	"github.com/BrandonDHaskell/Rollcall/internal/logging"
	"github.com/BrandonDHaskell/Rollcall/internal/metrics"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/broadcast"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/feedback"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/reader"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
	"github.com/BrandonDHaskell/Rollcall/internal/runloop"
	"github.com/BrandonDHaskell/Rollcall/internal/tracing"
)

const tracerName = "github.com/BrandonDHaskell/Rollcall"

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "rollcall: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "provision" {
		return runProvision(args[1:], stderr)
	}

	var configPath string
	flagSet := pflag.NewFlagSet("rollcall", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logging.New(os.Stdout, cfg.Env, cfg.LogLevel))
}

func loadConfig(path string) (*config.Config, error) {
	cfg, errs := config.Load(path)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// serve wires every component and runs until ctx is cancelled or one of the
// long-running parts fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cfg.LogSummary(logger)
	bootID := uuid.New()
	clock := service.NewBootClock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "rollcall",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		Exporter:     cfg.TracingExporter,
		Endpoint:     cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
		SamplingRate: cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()
	tracer := tp.Tracer(tracerName)

	st, err := openStores(ctx, cfg, logger, bootID)
	if err != nil {
		return err
	}
	defer st.Close()

	// Startup problems below are reported but never stop the reader.
	dir := service.NewDirectory()
	n, err := dir.Load(ctx, st.users, logger)
	if err != nil {
		logger.Error("user directory unavailable; starting empty", "error", err)
	}
	m.SetDirectorySize(n)
	if err := st.ledger.EnsureInitialized(ctx); err != nil {
		logger.Error("ledger init failed", "path", st.ledgerPath, "error", err)
	}
	logLedgerSize(logger, st.ledgerPath)

	hub := broadcast.NewHub(logger, m, cfg.SessionBuffer)
	defer hub.Close()

	player := feedback.NewPlayer(pinOutput(cfg.LEDPinPath), pinOutput(cfg.BuzzerPinPath), logger)

	rec := service.NewReconciler(service.ReconcilerDeps{
		Directory: dir,
		Ledger:    st.ledger,
		Feedback:  player,
		Publisher: hub,
		Clock:     clock,
		Logger:    logger,
		Metrics:   m,
		Tracer:    tracer,
	})

	rdr, closeReader, err := openReader(cfg.ReaderDevice, logger)
	if err != nil {
		return err
	}
	defer closeReader()

	loop := runloop.New(
		runloop.Config{Tick: cfg.TickInterval, Debounce: cfg.Debounce},
		runloop.Deps{Reader: rdr, Reconciler: rec, Hub: hub, Logger: logger, Metrics: m},
	)
	alive := func() bool { return loop.Alive(10*cfg.TickInterval + time.Second) }

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		Users:      service.NewUserService(st.users, dir, logger, m).WithTracer(tracer),
		Reconciler: rec,
		Loop:       loop,
		Sessions:   hub,
		LedgerPath: st.ledgerPath,
		DataDir:    cfg.DataDir,
		Gatherer:   reg,
		Healthy:    alive,
	})

	var (
		hs  *health.Server
		lis net.Listener
	)
	if cfg.GRPCAddr != "" {
		lis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		hs = health.NewServer(alive, logger)
	}

	logger.Info("rollcall starting",
		"boot_id", bootID.String(),
		"users", n,
		"http_addr", cfg.HTTPAddr,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(gctx) })

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if hs != nil {
		g.Go(func() error { return hs.Serve(lis) })
		g.Go(func() error {
			hs.Watch(gctx, time.Second)
			hs.Stop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("rollcall stopped", "uptime", clock.Uptime().Round(time.Second).String())
	return err
}

func pinOutput(path string) feedback.Output {
	if path == "" {
		return feedback.Nop{}
	}
	return feedback.NewGPIOValue(path)
}

func openReader(device string, logger *slog.Logger) (reader.Reader, func(), error) {
	if device == "" {
		logger.Warn("no reader_device configured; only manual check-ins will be recorded")
		return reader.Nop{}, func() {}, nil
	}
	lr, err := reader.Open(device, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open reader %s: %w", device, err)
	}
	return lr, func() { _ = lr.Close() }, nil
}

func logLedgerSize(logger *slog.Logger, path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	logger.Info("ledger ready",
		"path", path,
		"size", humanize.Bytes(uint64(fi.Size())),
		"modified", humanize.Time(fi.ModTime()),
	)
}

// runProvision writes one user record without starting the service, for
// preparing a reader's storage before deployment.
func runProvision(args []string, stderr io.Writer) error {
	var configPath, uid, name string
	flagSet := pflag.NewFlagSet("rollcall provision", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&uid, "uid", "", "badge identifier in hex")
	flagSet.StringVar(&name, "name", "", "display name")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.Env, cfg.LogLevel)
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger, uuid.New())
	if err != nil {
		return err
	}
	defer st.Close()

	dir := service.NewDirectory()
	if _, err := dir.Load(ctx, st.users, logger); err != nil {
		return err
	}

	users := service.NewUserService(st.users, dir, logger, nil)
	var rec types.UserRecord
	err = runloop.Inline{}.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = users.AddUser(ctx, types.AddUserRequest{UID: uid, Name: name})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "saved %s -> %s (%d users)\n", rec.UID, rec.Name, dir.Len())
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `rollcall: RFID attendance logger.

Reads badge identifiers from reader_device, records each scan in the
attendance ledger and pushes it to dashboard sessions on /ws.

Usage:
  rollcall [flags]
  rollcall provision --uid HEX --name NAME [--config FILE]

Flags:
`)
	flagSet.PrintDefaults()
}
