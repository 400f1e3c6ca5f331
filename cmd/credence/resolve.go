package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benaskins/credence/internal/resolver"
	"github.com/benaskins/credence/internal/service"
)

var connectedFlags []string

var resolveCmd = &cobra.Command{
	Use:   "resolve <user> <service>",
	Short: "Print the credential a request would use",
	Long: `Resolve a credential through the store, the environment, the operator
fallback and any --connected hints, in that order. The key is printed on
stdout and the winning source on stderr. Exits non-zero when nothing is found.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		hints, err := parseConnected(connectedFlags)
		if err != nil {
			return err
		}

		res := rt.resolver.ResolveDetail(cmd.Context(), service.ID(args[1]), args[0], hints)
		if !res.Found() {
			return fmt.Errorf("no valid %s credential for %s", args[1], args[0])
		}
		fmt.Fprintf(os.Stderr, "source: %s\n", res.Source)
		fmt.Println(res.Value)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <user> <service>",
	Short: "Show which sources hold a valid credential, masked",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		hints, err := parseConnected(connectedFlags)
		if err != nil {
			return err
		}

		d := rt.resolver.Describe(cmd.Context(), service.ID(args[1]), args[0], hints)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

// parseConnected turns "id=value" or "id:name=value" flags into hints.
func parseConnected(flags []string) (resolver.Hints, error) {
	var hints resolver.Hints
	for _, f := range flags {
		ref, value, ok := strings.Cut(f, "=")
		if !ok {
			return hints, fmt.Errorf("invalid --connected %q, want id=value", f)
		}
		id, name, _ := strings.Cut(ref, ":")
		hints.ConnectedServices = append(hints.ConnectedServices, resolver.ConnectedService{
			ServiceID:   id,
			DisplayName: name,
			Value:       value,
		})
	}
	return hints, nil
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, describeCmd} {
		c.Flags().StringArrayVar(&connectedFlags, "connected", nil, "Caller hint as id=value or id:display name=value (repeatable)")
		rootCmd.AddCommand(c)
	}
}
