package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// sweep and test-reminder act on the jobs of a running serve process, so
// they call its HTTP surface.
var serverAddr string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Ask the running service to reschedule every enabled user now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(cmd, http.MethodPost, "/sweep")
	},
}

var testDelay time.Duration

var testReminderCmd = &cobra.Command{
	Use:   "test-reminder <user-id>",
	Short: "Send a one-off digest to a user after a short delay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/users/" + args[0] + "/test-reminder"
		if testDelay > 0 {
			path += "?delay=" + testDelay.String()
		}
		return callServer(cmd, http.MethodPost, path)
	},
}

func init() {
	for _, c := range []*cobra.Command{sweepCmd, testReminderCmd} {
		c.Flags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8080", "base URL of the running service")
	}
	testReminderCmd.Flags().DurationVar(&testDelay, "delay", 0, "delay before sending (service default when 0)")
}

func callServer(cmd *cobra.Command, method, path string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	url := strings.TrimRight(serverAddr, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}
