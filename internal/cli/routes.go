package cli

import (
	"strings"

	"github.com/jacobclevenger/unison"
	"github.com/spf13/cobra"
)

func (a *App) newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the demo application's routes",
		Long: `Bootstrap the demo application without listening and print every
bound route with its required parameters and permissions.`,
		Example: `  unison routes
  unison routes -o yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := ParseFormat(mustGetString(cmd, "output"))
			if err != nil {
				return err
			}
			s, err := a.buildServer(false)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			routes := s.Routes()
			return write(cmd.OutOrStdout(), format, routes, routeTable(routes))
		},
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml")
	return cmd
}

func routeTable(routes []unison.RouteInfo) Table {
	t := Table{Headers: []string{"Method", "Path", "View", "Handler", "Requires", "Permissions"}}
	for _, r := range routes {
		var requires []string
		for _, q := range r.Query {
			requires = append(requires, "query:"+q)
		}
		for _, h := range r.Headers {
			requires = append(requires, "header:"+h)
		}
		for _, b := range r.Body {
			requires = append(requires, "body:"+b)
		}
		t.Rows = append(t.Rows, []string{
			string(r.Method),
			r.Path,
			r.View,
			r.Handler,
			strings.Join(requires, " "),
			strings.Join(r.Permissions, " "),
		})
	}
	return t
}

// mustGetString returns a flag defined by this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
