package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/credence/internal/service"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage stored provider keys",
}

var keysRememberCmd = &cobra.Command{
	Use:   "remember <user> <service> [value]",
	Short: "Validate and store a key for a user",
	Long:  "Store a key. If value is omitted, reads it from the terminal without echo, or from stdin when piped.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		user, svc := args[0], service.ID(args[1])

		var value string
		if len(args) == 3 {
			value = args[2]
		} else if value, err = readSecret(fmt.Sprintf("Enter %s key: ", svc)); err != nil {
			return err
		}

		if err := rt.resolver.Remember(cmd.Context(), svc, user, value); err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("key not stored: %s", verr.Reason)
			}
			return err
		}
		fmt.Printf("Key for %s stored for %s (%s)\n", svc, user, service.Mask(value))
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:     "list <user>",
	Short:   "List a user's stored keys",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		recs, err := rt.store.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No keys stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tKEY\tENABLED\tCREATED\tLAST VALIDATED")
		for _, rec := range recs {
			validated := "-"
			if rec.LastValidatedAt != nil {
				validated = rec.LastValidatedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
				rec.Service, service.Mask(rec.RawValue), rec.Enabled,
				rec.CreatedAt.Local().Format(time.DateTime), validated)
		}
		return w.Flush()
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:     "delete <user> <service>",
	Short:   "Remove a stored key",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.store.Delete(cmd.Context(), args[0], service.ID(args[1]))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s key stored for %s", args[1], args[0])
		}
		fmt.Printf("Key for %s deleted for %s\n", args[1], args[0])
		return nil
	},
}

var keysToggleEnabled bool

var keysToggleCmd = &cobra.Command{
	Use:   "toggle <user> <service>",
	Short: "Enable or disable a stored key without deleting it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.resolver.SetEnabled(cmd.Context(), service.ID(args[1]), args[0], keysToggleEnabled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s key stored for %s", args[1], args[0])
		}
		state := "disabled"
		if keysToggleEnabled {
			state = "enabled"
		}
		fmt.Printf("Key for %s %s for %s\n", args[1], state, args[0])
		return nil
	},
}

func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func init() {
	keysToggleCmd.Flags().BoolVar(&keysToggleEnabled, "enabled", true, "Enable (true) or disable (false) the key")

	keysCmd.AddCommand(keysRememberCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysDeleteCmd)
	keysCmd.AddCommand(keysToggleCmd)
	rootCmd.AddCommand(keysCmd)
}
