package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/config"
	"github.com/route-beacon/bmp-proxy/internal/forward"
	proxyhttp "github.com/route-beacon/bmp-proxy/internal/http"
	"github.com/route-beacon/bmp-proxy/internal/kafka"
	"github.com/route-beacon/bmp-proxy/internal/listener"
	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
	"github.com/route-beacon/bmp-proxy/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "decode":
		runDecode()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bmp-proxy <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve           Accept BMP sessions and forward decoded records")
	fmt.Println("  decode <file>   Decode a captured BMP stream to JSON lines on stdout")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
	fmt.Println("  --raw             (decode) include the raw BMP bytes in each record")
}

type flags struct {
	configPath string
	logLevel   string
	raw        bool
	args       []string
}

func parseFlags(args []string) flags {
	var f flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				f.configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				f.logLevel = args[i+1]
				i++
			}
		case "--raw":
			f.raw = true
		default:
			f.args = append(f.args, args[i])
		}
	}
	return f
}

func loadConfig(f flags) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if f.logLevel != "" {
		cfg.Service.LogLevel = f.logLevel
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe() {
	cfg, logger := loadConfig(parseFlags(os.Args[2:]))
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bmp-proxy",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("listen", cfg.Listener.Address),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Sinks ---
	var sinks []forward.Sink
	if cfg.Collector.Enabled {
		collector := forward.NewCollectorSink(cfg.Collector.CollectorAddress(),
			cfg.Collector.DialTimeout(), cfg.Collector.ReconnectInterval(),
			logger.Named("forward.collector"))
		if err := collector.Connect(ctx); err != nil {
			logger.Warn("collector not reachable yet", zap.Error(err))
		}
		sinks = append(sinks, collector)
	}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka, cfg.Service.InstanceID, cfg.Forward.IncludeRaw, logger.Named("forward.kafka"))
		if err != nil {
			logger.Fatal("failed to create Kafka producer", zap.Error(err))
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := producer.Ping(pingCtx); err != nil {
			logger.Warn("Kafka brokers not reachable yet", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		pingCancel()
		sinks = append(sinks, producer)
	}
	if len(sinks) == 0 {
		logger.Warn("no sinks enabled, records are decoded and dropped")
	}

	// --- Forwarder ---
	queue := forward.NewQueue(cfg.Forward.QueueSize)
	forwarder := forward.NewForwarder(sinks, logger.Named("forward"))

	fwdCtx, fwdCancel := context.WithCancel(context.Background())
	defer fwdCancel()
	var fwdWg sync.WaitGroup
	fwdWg.Add(1)
	go func() { defer fwdWg.Done(); forwarder.Run(fwdCtx, queue) }()

	// --- Listener ---
	handler := session.NewHandler(queue, cfg.Listener, logger.Named("session"))
	bmpListener := listener.New(cfg.Listener.Address, cfg.Listener.MaxConnections, handler, logger.Named("listener"))
	if err := bmpListener.Listen(); err != nil {
		logger.Fatal("failed to start BMP listener", zap.Error(err))
	}

	var lnWg sync.WaitGroup
	lnWg.Add(1)
	go func() {
		defer lnWg.Done()
		if err := bmpListener.Serve(ctx); err != nil {
			logger.Error("BMP listener stopped", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	checks := []proxyhttp.ReadinessCheck{bmpListener}
	for _, s := range sinks {
		checks = append(checks, s)
	}
	httpServer := proxyhttp.NewServer(cfg.Service.HTTPListen, checks, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("listener, forwarder and HTTP server started")

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown.
	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop accepting and close sessions, then drain what they queued.
	cancel()
	done := make(chan struct{})
	go func() {
		lnWg.Wait()
		queue.Close()
		fwdWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("queue drained", zap.Int("remaining", queue.Len()))
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, dropping queued records", zap.Int("remaining", queue.Len()))
		fwdCancel()
	}

	if err := forwarder.Close(); err != nil {
		logger.Error("sink close error", zap.Error(err))
	}

	logger.Info("bmp-proxy stopped")
}

// runDecode frames and decodes a captured BMP byte stream the same way a
// live connection is processed and prints one JSON record per message.
func runDecode() {
	f := parseFlags(os.Args[2:])
	if len(f.args) != 1 {
		fmt.Fprintln(os.Stderr, "decode: expected exactly one input file")
		os.Exit(1)
	}
	cfg, logger := loadConfig(f)
	defer logger.Sync()

	in, err := os.Open(f.args[0])
	if err != nil {
		logger.Fatal("failed to open capture", zap.Error(err))
	}
	defer in.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if err := decodeStream(in, out, f.args[0], cfg.Listener.MaxMessageBytes, f.raw, logger); err != nil {
		logger.Fatal("decode failed", zap.Error(err))
	}
}

func decodeStream(in io.Reader, out io.Writer, name string, maxMessage int, includeRaw bool, logger *zap.Logger) error {
	stream := session.NewStream(maxMessage)
	buf := make([]byte, 64*1024)
	now := time.Now()

	for {
		n, readErr := in.Read(buf)
		frames, err := stream.Feed(buf[:n])
		for _, fr := range frames {
			var diags []bmp.Diagnostic
			m, derr := bmp.DecodeMessage(fr.Data, bmp.SinkFunc(func(d bmp.Diagnostic) { diags = append(diags, d) }))
			r := record.Build(record.Meta{Conn: name, Offset: fr.Offset, ReceivedAt: now}, fr.Data, m, derr, diags)
			line, merr := r.Marshal(includeRaw)
			if merr != nil {
				return merr
			}
			if _, werr := fmt.Fprintf(out, "%s\n", line); werr != nil {
				return werr
			}
		}
		if err != nil {
			logger.Warn("framing failed, skipping bytes", zap.Error(err))
		}

		if errors.Is(readErr, io.EOF) {
			if p := stream.Pending(); p > 0 {
				logger.Warn("capture ends mid-message",
					zap.Int64("offset", stream.Offset()),
					zap.Int("pending_bytes", p),
				)
			}
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
