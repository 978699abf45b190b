package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vigil/internal/app"
	vcfg "vigil/internal/config"
	"vigil/internal/logger"

	"gopkg.in/yaml.v3"
)

const (
	exitOK            = 0
	exitDiscrepancies = 1
	exitError         = 2
)

func main() {
	cfgPath := os.Getenv("VIGIL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		runDaemon(cfgPath)
	case "check":
		os.Exit(runCheck(cfgPath, args))
	case "status":
		os.Exit(runStatus(cfgPath))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run, check or status)\n", cmd)
		os.Exit(exitError)
	}
}

func runDaemon(cfgPath string) {
	cfg, err := vcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("init log file: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ config loaded (env=%s, state=%s)", cfg.App.Env, cfg.App.StatePath)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// runCheck executes one reconciliation pass and reports via exit code: 0 when
// local tracking matches the exchange, 1 when discrepancies were found, 2 when
// the pass itself failed.
func runCheck(cfgPath string, args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit the full result as JSON")
	_ = fs.Parse(args)

	a, _, err := buildQuiet(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return exitError
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result, err := a.Engine().Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return exitError
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "check: %v\n", err)
			return exitError
		}
	} else {
		fmt.Println(result.Summary(0))
	}
	if !result.Synchronized {
		return exitDiscrepancies
	}
	return exitOK
}

// statusDoc is the YAML document `vigil status` prints.
type statusDoc struct {
	StatePath string               `yaml:"state_path"`
	Watched   int                  `yaml:"watched"`
	ByStatus  map[string]int       `yaml:"by_status,omitempty"`
	Orders    []statusOrder        `yaml:"orders,omitempty"`
	Audit     []statusReconcileRun `yaml:"recent_reconciliations,omitempty"`
}

type statusOrder struct {
	Symbol    string  `yaml:"symbol"`
	OrderID   int64   `yaml:"order_id"`
	Status    string  `yaml:"status"`
	Side      string  `yaml:"side"`
	Quantity  float64 `yaml:"quantity"`
	Price     float64 `yaml:"price"`
	Timeframe string  `yaml:"timeframe"`
	ExpiresAt string  `yaml:"expires_at,omitempty"`
	Recovered bool    `yaml:"recovered,omitempty"`
}

type statusReconcileRun struct {
	RunID        string `yaml:"run_id"`
	StartedAt    string `yaml:"started_at"`
	Checked      int    `yaml:"checked"`
	Failed       int    `yaml:"failed"`
	Synchronized bool   `yaml:"synchronized"`
}

// runStatus prints the persisted registry and recent reconciliation history
// without touching the exchange.
func runStatus(cfgPath string) int {
	a, cfg, err := buildQuiet(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitError
	}
	defer a.Close()

	doc := statusDoc{
		StatePath: cfg.App.StatePath,
		ByStatus:  make(map[string]int),
	}
	for _, o := range a.Watcher().Store().All() {
		doc.Watched++
		doc.ByStatus[o.Status.String()]++
		so := statusOrder{
			Symbol:    o.Symbol,
			OrderID:   o.OrderID,
			Status:    o.Status.String(),
			Side:      string(o.Side),
			Quantity:  o.Quantity,
			Price:     o.Price,
			Timeframe: o.Timeframe,
			Recovered: o.Recovered,
		}
		if o.ExpiresAt != nil {
			so.ExpiresAt = o.ExpiresAt.UTC().Format(time.RFC3339)
		}
		doc.Orders = append(doc.Orders, so)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if runs, err := a.Audit().RecentRuns(ctx, 5); err == nil {
		for _, r := range runs {
			doc.Audit = append(doc.Audit, statusReconcileRun{
				RunID:        r.RunID,
				StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
				Checked:      r.Checked,
				Failed:       r.Failed,
				Synchronized: r.Synchronized,
			})
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitError
	}
	os.Stdout.Write(out)
	return exitOK
}

// buildQuiet constructs the app for one-shot modes: warnings only, state
// loaded, nothing started.
func buildQuiet(cfgPath string) (*app.App, *vcfg.Config, error) {
	cfg, err := vcfg.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel("warn")
	if err := a.Watcher().Store().Load(); err != nil {
		return nil, nil, fmt.Errorf("load state: %w", err)
	}
	return a, cfg, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
