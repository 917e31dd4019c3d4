package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/app"
	"github.com/Ptrskay3/msde-cli/internal/metrics"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

// Set at build time via ldflags.
var (
	version         = "dev"
	upstreamVersion = ""
)

const envPrefix = "MSDE"

// recorder collects metrics for the whole invocation; Execute exports it
// when metrics_file is set.
var recorder = metrics.New()

type RootConfig struct {
	ConfigFile string
	LogLevel   string
	Home       string
	ProjectDir string
	LocalAuth  bool
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	stop()
	writeMetrics()
	if err != nil {
		log.Error().Err(err).Msg(errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "msde-cli",
		Short:         "Manage the local MSDE development stack",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			cmd.SetContext(log.Logger.WithContext(cmd.Context()))
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flags.StringVar(&cfg.Home, "home", "", "State directory (default $HOME/.msde)")
	flags.StringVar(&cfg.ProjectDir, "project-dir", "", "Project directory")
	flags.BoolVar(&cfg.LocalAuth, "local-auth", false, "Use the local development session authority")
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("home", flags.Lookup("home"))
	_ = viper.BindPFlag("project_dir", flags.Lookup("project-dir"))
	_ = viper.BindPFlag("local_auth", flags.Lookup("local-auth"))

	cmd.AddCommand(newLoginCommand())
	cmd.AddCommand(newLogoutCommand())
	cmd.AddCommand(newWhoamiCommand())
	cmd.AddCommand(newVersionsCommand())
	cmd.AddCommand(newPlanCommand())
	cmd.AddCommand(newInstallCommand())
	cmd.AddCommand(newUpgradeCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newUpgradeProjectCommand())
	cmd.AddCommand(newSetProjectCommand())
	cmd.AddCommand(newUpCommand())
	cmd.AddCommand(newDownCommand())
	cmd.AddCommand(newRestartCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newLocalAuthCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("project_dir", "MSDE_PROJECT_DIR", "MERIGO_DEV_PACKAGE_DIR")
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("msde-cli")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/msde")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return nil
}

func setDefaults() {
	if home, err := os.UserHomeDir(); err == nil {
		viper.SetDefault("home", filepath.Join(home, ".msde"))
	}
	viper.SetDefault("upstream_version", upstreamVersion)
	viper.SetDefault("index_ttl", "12h")
	viper.SetDefault("registry_timeout", 60)
	viper.SetDefault("retry.attempts", 4)
	viper.SetDefault("retry.initial_interval", "250ms")
	viper.SetDefault("retry.max_interval", "5s")
	viper.SetDefault("session.margin", "5m")
	viper.SetDefault("health.timeout", "90s")
	viper.SetDefault("health.interval", "1s")
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newAppService() (app.Service, error) {
	return app.NewService(app.Config{
		Home:              viper.GetString("home"),
		ProjectDir:        viper.GetString("project_dir"),
		RegistryEndpoint:  viper.GetString("registry_endpoint"),
		AuthEndpoint:      viper.GetString("auth_endpoint"),
		LocalAuth:         viper.GetBool("local_auth"),
		UpstreamVersion:   viper.GetString("upstream_version"),
		Token:             viper.GetString("token"),
		CompatibilityFile: viper.GetString("compatibility_file"),
		IndexTTL:          viper.GetDuration("index_ttl"),
		RegistryTimeout:   viper.GetInt("registry_timeout"),
		Retry: retry.Policy{
			Attempts:        viper.GetInt("retry.attempts"),
			InitialInterval: viper.GetDuration("retry.initial_interval"),
			MaxInterval:     viper.GetDuration("retry.max_interval"),
		},
		SessionMargin:  viper.GetDuration("session.margin"),
		HealthTimeout:  viper.GetDuration("health.timeout"),
		HealthInterval: viper.GetDuration("health.interval"),
		Metrics:        recorder,
	})
}

func writeMetrics() {
	path := viper.GetString("metrics_file")
	if path == "" {
		return
	}
	if err := recorder.WriteTextfile(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to write metrics")
	}
}

func exitCodeForError(err error) int {
	var (
		authErr          *types.AuthFailure
		resolveErr       *types.ResolveError
		installErr       *types.InstallError
		migrationErr     *types.MigrationError
		orchestrationErr *types.OrchestrationError
	)
	switch {
	case errors.As(err, &authErr):
		return 3
	case errors.As(err, &resolveErr):
		return 4
	case errors.As(err, &installErr):
		return 5
	case errors.As(err, &migrationErr):
		return 6
	case errors.As(err, &orchestrationErr):
		return 7
	}
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists, errbuilder.CodeNotFound:
		return 2
	case errbuilder.CodePermissionDenied:
		return 3
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
