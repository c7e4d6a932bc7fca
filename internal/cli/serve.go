package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jacobclevenger/unison/internal/demo"
	"github.com/jacobclevenger/unison/server"
	"github.com/spf13/cobra"
)

func (a *App) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo application",
		Long: `Start the demo application behind the unison server: request
logging, panic recovery, CORS, optional rate limiting, Prometheus
metrics and a socket endpoint for live user events.

Server settings are read from UNISON_* environment variables (and .env
files); --host and --port override them.`,
		Example: `  # Start on the default port 8080
  unison serve --secret s3cr3t

  # Bind to localhost on a custom port with debug logs
  unison serve --host 127.0.0.1 --port 3000 --log-level debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.buildServer(true)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			return s.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().String("host", "", "bind address (overrides UNISON_HOST)")
	cmd.Flags().IntP("port", "p", 0, "server port (overrides UNISON_PORT)")
	_ = a.viper.BindPFlag("host", cmd.Flags().Lookup("host"))
	_ = a.viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

// buildServer bootstraps the demo application on a new server.  Without
// a configured secret serve generates one per process; other commands
// have no use for tokens and get a throwaway secret silently.
func (a *App) buildServer(serving bool) (*server.Server, error) {
	cfg, err := serverConfig(a.viper)
	if err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	secret := a.config.Secret
	if secret == "" {
		secret = uuid.NewString()
		if serving {
			a.logger.Warn().Msg("No token secret configured; tokens will not survive a restart")
		}
	}

	s := server.New(cfg, a.logger)
	app := demo.NewApp(demo.Options{Secret: []byte(secret), Logger: a.logger})
	if err := s.Bootstrap(app); err != nil {
		s.Shutdown()
		return nil, err
	}
	if err := demo.Attach(s.Socket(), s.Injectables()); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}
