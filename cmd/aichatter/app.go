package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/connector"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// DefaultSettingsPath 是未指定 --settings 时尝试读取的设置文件，不存在时忽略
const DefaultSettingsPath = "config/aichatter.yaml"

// app 持有命令共享的输出与可替换的依赖
type app struct {
	stdout io.Writer
	stderr io.Writer

	// providerFactory 为空时使用 llm/factory
	providerFactory connector.ProviderFactory
	// envLookup 为空时读取进程环境变量
	envLookup func(string) (string, bool)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

// sourceFlags 是选择角色配置与设置文件的公共参数
type sourceFlags struct {
	configPath   string
	envPath      string
	avatarsDir   string
	settingsPath string
}

func (f *sourceFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", cast.DefaultMarkdownPath, "character markdown file (legacy layout)")
	fs.StringVar(&f.envPath, "env", "", "environment file (split layout)")
	fs.StringVar(&f.avatarsDir, "avatars-dir", "", "avatar directory (split layout)")
	fs.StringVar(&f.settingsPath, "settings", "", "YAML settings file (default "+DefaultSettingsPath+" if present)")
}

// loadSettings 依次应用默认值、设置文件与 AICHATTER_* 环境变量
func (a *app) loadSettings(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithRequiredConfigPath(path)
	} else {
		loader = loader.WithConfigPath(DefaultSettingsPath)
	}
	if a.envLookup != nil {
		loader = loader.WithEnvLookup(a.envLookup)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, asConfigError(err)
	}
	return cfg, nil
}

func (a *app) loadCast(f sourceFlags) (*cast.Cast, error) {
	c, err := cast.Load(cast.Options{
		MarkdownPath: f.configPath,
		EnvPath:      f.envPath,
		AvatarsDir:   f.avatarsDir,
	})
	if err != nil {
		return nil, asConfigError(err)
	}
	return c, nil
}

func (a *app) newConnector(cfg *config.Config, logger *zap.Logger, m *metrics.Collector, otel *telemetry.Providers) *connector.LLMConnector {
	opts := []connector.Option{
		connector.WithLogger(logger),
		connector.WithMetrics(m),
		connector.WithTracer(otel.Tracer()),
	}
	if a.providerFactory != nil {
		opts = append(opts, connector.WithProviderFactory(a.providerFactory))
	}
	return connector.New(connector.ConfigFromSettings(cfg.LLM), opts...)
}

// preflight 探测所有端点并打印结果
func (a *app) preflight(ctx context.Context, conn *connector.LLMConnector, c *cast.Cast) error {
	statuses, err := conn.Preflight(ctx, c)
	for _, st := range statuses {
		fmt.Fprintln(a.stdout, st.String())
	}
	return err
}

func printCast(w io.Writer, c *cast.Cast) {
	fmt.Fprintf(w, "source: %s\n", c.Source)
	fmt.Fprintf(w, "environment: %s\n\n", firstLine(c.Environment))

	chair := c.Chair()
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHANDLE\tROLE\tPROVIDER\tHOST\tMODEL\tTEMP")
	for _, ch := range c.Characters {
		role := ch.Role
		if ch == chair {
			role = "chair"
		}
		if role == "" {
			role = "-"
		}
		fmt.Fprintf(tw, "%s\t@%s\t%s\t%s\t%s\t%s\t%.2f\n",
			ch.Name, ch.Handle, role, ch.Provider, ch.Host, ch.Model, ch.Temperature)
	}
	_ = tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
