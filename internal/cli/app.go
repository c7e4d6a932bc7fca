// Package cli implements the unison command line: serving the demo
// application, listing its routes and minting demo tokens.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobclevenger/unison/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// App holds the state shared by every command.
type App struct {
	build  BuildInfo
	viper  *viper.Viper
	config *Config
	logger zerolog.Logger

	out    io.Writer
	errOut io.Writer

	// skipEnvFiles stops .env files being loaded, for tests.
	skipEnvFiles bool
}

// New creates the CLI application.
func New(build BuildInfo) *App {
	return &App{
		build:  build,
		viper:  newViper(),
		config: &Config{},
		logger: zerolog.Nop(),
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// Logger returns the logger built from the parsed configuration.
func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// Execute runs the command line given by args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "unison",
		Short:   "Annotation-driven web scaffold",
		Version: a.build.Version,
		Long: `unison binds declared views to HTTP routes, validates requests
against their declared query, header and body parameters, checks
permissions and injects shared singletons into each view.

This binary serves the bundled demo application.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is ./.unison.yaml or $HOME/.unison.yaml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error, off")
	flags.String("log-format", "console", "log format: console, json")
	flags.Bool("no-color", false, "disable colored log output")
	flags.String("secret", "", "secret used to sign demo bearer tokens")
	for _, name := range []string{"config", "log-level", "log-format", "no-color", "secret"} {
		_ = a.viper.BindPFlag(name, flags.Lookup(name))
	}

	root.SetVersionTemplate("unison {{.Version}}\n")
	root.AddCommand(
		a.newServeCommand(),
		a.newRoutesCommand(),
		a.newTokenCommand(),
		a.newVersionCommand(),
	)
	return root
}

// setup runs before every command.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	if !a.skipEnvFiles {
		loadEnvFiles()
	}
	if err := readConfigFile(a.viper); err != nil {
		return err
	}
	a.config = configFrom(a.viper)
	a.logger = logging.New(a.config.Logging())
	if a.config.ConfigFile != "" {
		a.logger.Debug().Str("file", a.config.ConfigFile).Msg("Loaded config file")
	}
	return nil
}

// ContextWithSignals returns a context cancelled on SIGINT or SIGTERM.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// ExitOnError prints err and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
