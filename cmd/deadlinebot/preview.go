package main

import (
	"fmt"
	"strconv"
	"time"

	"deadlinebot/internal/app"

	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview <user-id>",
	Short: "Print a user's current digest without scheduling it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("user id must be an integer: %w", err)
		}
		a, err := app.New(cfgPath, app.WithDryRun(), app.WithoutHTTP())
		if err != nil {
			return err
		}
		defer a.Close()

		pv, err := a.Reminders().Preview(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user %d, group %q, reminders %t, %d item(s)\n", pv.User.ID, pv.User.Group, pv.User.RemindersEnabled, len(pv.Items))
		if pv.NextFire.IsZero() {
			fmt.Fprintln(out, "no job would be scheduled")
		} else {
			fmt.Fprintf(out, "next fire: %s\n", pv.NextFire.Format(time.RFC3339))
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, pv.Text)
		return nil
	},
}
