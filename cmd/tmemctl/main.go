// tmemctl is an interactive shell over an in-process tmem page cache.
//
// Usage:
//
//	tmemctl [options]                  Start the interactive shell
//	tmemctl [options] -c "cmd; cmd"    Run commands and exit
//
// Options:
//
//	-f, --config         JSONC config file (default: $XDG_CONFIG_HOME/tmemctl/config.json)
//	-n, --capacity       Number of page slots
//	    --shards         Number of index shards
//	    --off-heap       Keep pages in anonymous memory mappings
//	    --memory-limit   Memory budget for the pool, e.g. 64MiB
//	    --io-limit       Page transfer limit per second, e.g. 10MB
//	    --log-level      debug, info, warn or error
//	    --log-format     text or json
//	    --metrics-addr   Serve Prometheus metrics on this address
//	-c, --command        Semicolon separated commands to run
//	    --print-config   Print the effective config and exit
//
// Commands are listed by 'help' inside the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/hupe1980/tmem"
	"github.com/hupe1980/tmem/device"
	"github.com/hupe1980/tmem/resource"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds parsed command line flags.
type options struct {
	configPath  string
	command     string
	printConfig bool
	overrides   Config
	changed     func(name string) bool
}

func parseFlags(errOut io.Writer, args []string) (options, error) {
	fs := flag.NewFlagSet("tmemctl", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var o options
	fs.StringVarP(&o.configPath, "config", "f", "", "JSONC config file")
	fs.StringVarP(&o.command, "command", "c", "", "semicolon separated commands to run")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective config and exit")
	fs.IntVarP(&o.overrides.Capacity, "capacity", "n", 0, "number of page slots")
	fs.IntVar(&o.overrides.Shards, "shards", 0, "number of index shards")
	fs.BoolVar(&o.overrides.OffHeap, "off-heap", false, "keep pages in anonymous memory mappings")
	fs.StringVar(&o.overrides.MemoryLimit, "memory-limit", "", "memory budget for the pool, e.g. 64MiB")
	fs.StringVar(&o.overrides.IOLimit, "io-limit", "", "page transfer limit per second, e.g. 10MB")
	fs.StringVar(&o.overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&o.overrides.LogFormat, "log-format", "", "text or json")
	fs.StringVar(&o.overrides.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	fs.Usage = func() {
		fmt.Fprintf(errOut, "Usage: tmemctl [options] [-c \"cmd; cmd\"]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	o.changed = fs.Changed
	return o, nil
}

// resolveConfig loads the config file and applies explicitly set flags.
func resolveConfig(o options) (Config, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return Config{}, err
	}

	if o.changed("capacity") {
		cfg.Capacity = o.overrides.Capacity
	}
	if o.changed("shards") {
		cfg.Shards = o.overrides.Shards
	}
	if o.changed("off-heap") {
		cfg.OffHeap = o.overrides.OffHeap
	}
	if o.changed("memory-limit") {
		cfg.MemoryLimit = o.overrides.MemoryLimit
	}
	if o.changed("io-limit") {
		cfg.IOLimit = o.overrides.IOLimit
	}
	if o.changed("log-level") {
		cfg.LogLevel = o.overrides.LogLevel
	}
	if o.changed("log-format") {
		cfg.LogFormat = o.overrides.LogFormat
	}
	if o.changed("metrics-addr") {
		cfg.MetricsAddr = o.overrides.MetricsAddr
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return cfg, nil
}

// env is everything a shell session runs on.
type env struct {
	cache     *tmem.Cache
	device    *device.Device
	resources *resource.Controller
	metrics   *prometheus.Registry
}

// newEnv builds the cache and device described by cfg.
func newEnv(ctx context.Context, cfg Config) (*env, error) {
	level, _ := cfg.logLevel()
	memLimit, _ := cfg.memoryLimitBytes()
	ioLimit, _ := cfg.ioLimitBytes()

	logger := tmem.NewTextLogger(level)
	if cfg.LogFormat == "json" {
		logger = tmem.NewJSONLogger(level)
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     memLimit,
		MaxBackgroundWorkers: 4,
		IOLimitBytesPerSec:   ioLimit,
	})

	reg := prometheus.NewRegistry()
	opts := []tmem.Option{
		tmem.WithCapacity(cfg.Capacity),
		tmem.WithShards(cfg.Shards),
		tmem.WithLogger(logger),
		tmem.WithResourceController(rc),
		tmem.WithMetricsCollector(newPromMetrics(reg)),
	}
	if cfg.OffHeap {
		opts = append(opts, tmem.WithOffHeap())
	}

	c, err := tmem.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	registerCacheGauges(reg, c)

	return &env{
		cache: c,
		device: device.New(c,
			device.WithResourceController(rc),
			device.WithLogger(logger),
		),
		resources: rc,
		metrics:   reg,
	}, nil
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	o, err := parseFlags(errOut, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}

	if o.printConfig {
		formatted, err := FormatConfig(cfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, formatted)
		return err
	}

	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.cache.Close()

	if cfg.MetricsAddr != "" {
		addr, shutdown, err := serveMetrics(cfg.MetricsAddr, e.metrics)
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		fmt.Fprintf(errOut, "metrics: http://%s/metrics\n", addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	h, err := e.device.Open()
	if err != nil {
		return err
	}
	defer h.Close()

	sh := &shell{cache: e.cache, handle: h, resources: e.resources, out: out}

	if o.command != "" {
		return runScript(ctx, sh, o.command)
	}
	return runREPL(ctx, sh, cfg)
}

// runScript executes semicolon separated commands, stopping at the first
// error.
func runScript(ctx context.Context, sh *shell, script string) error {
	for line := range strings.SplitSeq(script, ";") {
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return fmt.Errorf("%s: %w", strings.TrimSpace(line), err)
		}
	}
	return nil
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tmemctl_history")
}

func runREPL(ctx context.Context, sh *shell, cfg Config) error {
	// Set up liner for readline-style input
	l := liner.NewLiner()
	defer l.Close()

	l.SetCtrlCAborts(true)
	l.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = l.ReadHistory(f)
		f.Close()
	}
	defer saveHistory(l)

	sh.printf("tmemctl - tmem page cache shell (capacity=%d, off_heap=%v)\n", cfg.Capacity, cfg.OffHeap)
	sh.printf("Type 'help' for available commands.\n\n")

	for {
		line, err := l.Prompt("tmem> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				sh.printf("\nBye!\n")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.AppendHistory(line)

		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				sh.printf("Bye!\n")
				return nil
			}
			sh.printf("error: %v\n", err)
		}
	}
}

// saveHistory persists command history to disk.
func saveHistory(l *liner.State) {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil { //nolint:gosec // fixed path under home
			_, _ = l.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func completer(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}
