package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/aichatter/internal/archive"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/BaSui01/aichatter/prompt"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// ✅ validate
// =============================================================================

func newValidateCmd(a *app) *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the character configuration and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadSettings(src.settingsPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return asConfigError(err)
			}
			if _, err := prompt.LookupLocale(cfg.Session.Locale); err != nil {
				return asConfigError(err)
			}
			c, err := a.loadCast(src)
			if err != nil {
				return err
			}
			printCast(a.stdout, c)
			fmt.Fprintf(a.stdout, "\nok: %d characters, policy %s, budget %s\n",
				len(c.Characters), cfg.Session.Policy, cfg.Session.MaxDuration)
			return nil
		},
	}
	src.register(cmd.Flags())
	return cmd
}

// =============================================================================
// 🏥 check
// =============================================================================

func newCheckCmd(a *app) *cobra.Command {
	var (
		src     sourceFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every LLM endpoint used by the cast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadSettings(src.settingsPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return asConfigError(err)
			}
			c, err := a.loadCast(src)
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
			conn := a.newConnector(cfg, logger, collector, &telemetry.Providers{})
			return a.preflight(ctx, conn, c)
		},
	}
	src.register(cmd.Flags())
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall probe timeout")
	return cmd
}

// =============================================================================
// 🗄️ history
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		settingsPath string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List archived sessions or print one as Markdown",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadSettings(settingsPath)
			if err != nil {
				return err
			}
			locale, err := prompt.LookupLocale(cfg.Session.Locale)
			if err != nil {
				return asConfigError(err)
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			store, err := archive.Open(cmd.Context(), cfg.Archive, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return a.showSession(cmd.Context(), store, args[0], locale.Headings)
			}
			return a.listSessions(cmd.Context(), store, limit, logger)
		},
	}
	cmd.Flags().StringVar(&settingsPath, "settings", "", "YAML settings file (default "+DefaultSettingsPath+" if present)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list (0 = all)")
	return cmd
}

func (a *app) listSessions(ctx context.Context, store *archive.Store, limit int, logger *zap.Logger) error {
	sessions, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	logger.Debug("listed archived sessions", zap.Int("count", len(sessions)))
	if len(sessions) == 0 {
		fmt.Fprintln(a.stdout, "no archived sessions")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tEND\tTURNS\tTHEME")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.StartedAt.Local().Format(time.DateTime), s.EndReason, s.Turns, s.Theme)
	}
	return tw.Flush()
}

func (a *app) showSession(ctx context.Context, store *archive.Store, id string, h transcript.Headings) error {
	rec, err := store.Get(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("no archived session %q", id)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(a.stdout, transcript.RenderMarkdown(transcript.FromSnapshot(rec.Snapshot()), h))
	return nil
}
