package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/conversation"
	"github.com/BaSui01/aichatter/internal/archive"
	"github.com/BaSui01/aichatter/internal/feed"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/server"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/BaSui01/aichatter/llm/tokenizer"
	"github.com/BaSui01/aichatter/prompt"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ 根命令 / run
// =============================================================================

// runOptions 是会话相关的命令行参数；仅显式给出的参数覆盖设置文件
type runOptions struct {
	sourceFlags

	theme       string
	maxSeconds  int
	outputDir   string
	policy      string
	maxTurns    int
	seed        int64
	preflight   bool
	metricsAddr string
	noStream    bool
}

func newRootCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:   "aichatter",
		Short: "Turn-taking multi-character conversation on local LLMs",
		Long: `aichatter runs a chaired conversation between characters backed by local
LLM endpoints (Ollama or OpenAI-compatible servers). Turns stream to the
terminal and the transcript is saved as Markdown under the output directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, opts)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	registerRunFlags(root.Flags(), opts)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a conversation (same as the root command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, opts)
		},
	}
	registerRunFlags(runCmd.Flags(), opts)

	root.AddCommand(
		runCmd,
		newValidateCmd(a),
		newCheckCmd(a),
		newHistoryCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				printVersion(a.stdout)
			},
		},
	)
	return root
}

func registerRunFlags(fs *pflag.FlagSet, opts *runOptions) {
	opts.sourceFlags.register(fs)
	fs.StringVar(&opts.theme, "theme", "", "conversation theme (required)")
	fs.IntVar(&opts.maxSeconds, "max-seconds", 180, "time budget in seconds")
	fs.StringVar(&opts.outputDir, "output-dir", "", "transcript directory (default outputs)")
	fs.StringVar(&opts.policy, "policy", "", "speaker policy: directed or round_robin")
	fs.IntVar(&opts.maxTurns, "max-turns", 0, "stop after this many turns (0 = unlimited)")
	fs.Int64Var(&opts.seed, "seed", 0, "selector seed (0 = derive from theme and handles)")
	fs.BoolVar(&opts.preflight, "preflight", false, "probe all endpoints before starting")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&opts.noStream, "no-stream", false, "disable streaming output")
}

// applyFlags 把显式给出的参数写入配置
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, opts *runOptions) {
	if fs.Changed("max-seconds") {
		cfg.Session.MaxDuration = time.Duration(opts.maxSeconds) * time.Second
	}
	if fs.Changed("output-dir") {
		cfg.Output.Dir = opts.outputDir
	}
	if fs.Changed("policy") {
		cfg.Session.Policy = opts.policy
	}
	if fs.Changed("max-turns") {
		cfg.Session.MaxTurns = opts.maxTurns
	}
	if fs.Changed("seed") {
		cfg.Session.Seed = opts.seed
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.noStream {
		cfg.LLM.Stream = false
	}
}

func (a *app) run(cmd *cobra.Command, opts *runOptions) error {
	if opts.theme == "" {
		return asConfigError(errors.New("--theme is required"))
	}

	cfg, err := a.loadSettings(opts.settingsPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg, opts)
	if err := cfg.Validate(); err != nil {
		return asConfigError(err)
	}
	locale, err := prompt.LookupLocale(cfg.Session.Locale)
	if err != nil {
		return asConfigError(err)
	}
	c, err := a.loadCast(opts.sourceFlags)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otel.Shutdown(shutdownCtx)
	}()

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	if cfg.Metrics.Addr != "" {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		srv := server.NewManager(server.NewMux(collector.Handler()), srvCfg, logger)
		if err := srv.Start(); err != nil {
			logger.Warn("metrics endpoint disabled", zap.Error(err))
		} else {
			defer func() { _ = srv.Shutdown(context.Background()) }()
		}
	}

	conn := a.newConnector(cfg, logger, collector, otel)
	if opts.preflight {
		if err := a.preflight(ctx, conn, c); err != nil {
			return err
		}
	}

	builder, err := newBuilder(cfg, locale, c)
	if err != nil {
		return err
	}

	console := transcript.NewConsole(a.stdout, cfg.LLM.Stream)
	file := transcript.NewFileSink(transcript.FileSinkConfig{
		Dir:      cfg.Output.Dir,
		JSON:     cfg.Output.JSON,
		Headings: locale.Headings,
	}, logger)
	sinks := transcript.MultiSink{console, file}
	sinks, closeSinks := a.optionalSinks(ctx, cfg, logger, sinks)
	defer closeSinks()

	sess, err := conversation.New(conversation.Options{
		Cast:      c,
		Connector: conn,
		Builder:   builder,
		Settings:  cfg.Session,
		MaxTokens: cfg.LLM.MaxTokens,
		Sink:      sinks,
		Observers: []conversation.Observer{console},
		Logger:    logger,
		Metrics:   collector,
		Tracer:    otel.Tracer(),
		Meter:     otel.Meter(),
	})
	if err != nil {
		return err
	}

	_, runErr := sess.Run(ctx, opts.theme)
	if path := file.Path(); path != "" {
		fmt.Fprintf(a.stdout, "\n[output] %s\n", path)
	}
	return runErr
}

func newBuilder(cfg *config.Config, locale *prompt.Locale, c *cast.Cast) (*prompt.Builder, error) {
	var window *prompt.Window
	if cfg.Session.MaxHistoryTokens > 0 {
		tok, err := tokenizer.New(cfg.LLM.Tokenizer, c.Chair().Model)
		if err != nil {
			return nil, asConfigError(err)
		}
		window = prompt.NewWindow(tok, cfg.Session.MaxHistoryTokens)
	}
	return prompt.NewBuilder(locale, window)
}

// optionalSinks 接入 Redis 推送与数据库归档；连接失败只记日志，会话照常进行
func (a *app) optionalSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger, sinks transcript.MultiSink) (transcript.MultiSink, func()) {
	var closers []func() error

	if cfg.Feed.Enabled {
		pub, err := feed.New(cfg.Feed, logger)
		if err != nil {
			logger.Warn("live feed disabled", zap.Error(err))
			fmt.Fprintf(a.stderr, "warning: live feed disabled: %v\n", err)
		} else {
			sinks = append(sinks, pub)
			closers = append(closers, pub.Close)
		}
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("archive disabled", zap.Error(err))
			fmt.Fprintf(a.stderr, "warning: archive disabled: %v\n", err)
		} else {
			sinks = append(sinks, store)
			closers = append(closers, store.Close)
		}
	}

	return sinks, func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}
}
