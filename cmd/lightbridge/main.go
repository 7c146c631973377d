package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/lightbridge/alloc"
	"github.com/wippyai/lightbridge/bridge"
	"github.com/wippyai/lightbridge/config"
	"github.com/wippyai/lightbridge/host"
	"github.com/wippyai/lightbridge/internal/logging"
)

type peerList []string

func (p *peerList) String() string { return strings.Join(*p, ",") }

func (p *peerList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	var peers peerList
	var (
		configFile  = flag.String("config", "", "Path to YAML configuration file")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		memory      = flag.String("memory", "", "Linear memory backend (heap, wazero)")
		chain       = flag.String("chain", "", "Chain name reported by system_chain")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Var(&peers, "peer", "Peer address host:port (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *memory != "" {
		cfg.Memory.Backend = *memory
	}
	if *chain != "" {
		cfg.Engine.ChainName = *chain
	}
	cfg.Engine.Peers = append(cfg.Engine.Peers, peers...)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive && !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
		os.Exit(1)
	}
	if *interactive {
		// the TUI owns the terminal; keep log lines off it
		cfg.Log.Outputs = withoutConsole(cfg.Log.Outputs)
		if cfg.Log.Outputs[0] == os.DevNull && cfg.Log.Rotation.Filename == "" {
			cfg.Log.Rotation.Enable = false
		}
	}

	if err := run(cfg, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(cfg config.Config, interactive bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logging.Install(logger)

	arena, closeMemory, err := setupArena(ctx, cfg.Memory)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer closeMemory()

	storage, err := cfg.Host.StorageBytes()
	if err != nil {
		return err
	}
	b := bridge.New(cfg.Engine.Client(), bridge.WithArena(arena))
	h := host.New(b, host.Config{
		Storage:      storage,
		DialTimeout:  cfg.Host.DialTimeout,
		MaxLineBytes: cfg.Host.MaxLineBytes,
	})

	logger.Info("lightbridge started",
		zap.String("chain", cfg.Engine.ChainName),
		zap.Strings("peers", cfg.Engine.Peers),
		zap.String("memory", cfg.Memory.Backend))

	if interactive {
		return runInteractive(ctx, h, cfg.Engine.ChainName)
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Reading JSON-RPC requests from stdin, one per line. Ctrl+D to finish.")
	}
	return runLines(ctx, h, os.Stdin, os.Stdout, logger)
}

// setupArena installs the process-wide arena over the configured backend.
func setupArena(ctx context.Context, m config.MemoryConfig) (*alloc.Arena, func(), error) {
	if m.Backend != config.BackendWazero {
		return alloc.Init(nil, m.Alloc()), func() {}, nil
	}
	mem, err := alloc.NewSandboxMemory(ctx, m.InitialPages, m.MaxPages)
	if err != nil {
		return nil, nil, err
	}
	return alloc.Init(mem, m.Alloc()), func() { _ = mem.Close(context.Background()) }, nil
}

// maxInputLine bounds one request line read from stdin.
var maxInputLine = 16 << 20

// runLines feeds one request per input line to the host and writes one
// response per output line. A read error ends the input after it is logged.
func runLines(ctx context.Context, h *host.Host, r io.Reader, w io.Writer, logger *zap.Logger) error {
	in := make(chan string)
	go func() {
		defer close(in)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, min(64*1024, maxInputLine)), maxInputLine)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case in <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Error("reading requests failed, input closed",
				zap.Int("max_line_bytes", maxInputLine),
				zap.Error(err))
		}
	}()

	out := bufio.NewWriter(w)
	err := h.Run(ctx, in, func(resp string) {
		out.WriteString(resp)
		out.WriteByte('\n')
		out.Flush()
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func withoutConsole(outputs []string) []string {
	var kept []string
	for _, o := range outputs {
		switch strings.ToLower(o) {
		case "stdout", "stderr":
		default:
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		kept = []string{os.DevNull}
	}
	return kept
}
