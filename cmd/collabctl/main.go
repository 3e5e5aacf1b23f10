// Command collabctl is an operator tool for the relay: it mints development
// tokens, tails a problem room and drives a test cursor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proofcanvas/application/channel"
)

var (
	relayURL  string
	problemID string
	token     string
	verbose   bool
)

var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	warn   = color.New(color.FgYellow)
	bad    = color.New(color.FgRed)
	info   = color.New(color.FgCyan)
)

var rootCmd = &cobra.Command{
	Use:           "collabctl",
	Short:         "collabctl - inspect and exercise a proof canvas relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&relayURL, "url", envOr("RELAY_URL", "ws://localhost:8080/ws"), "relay websocket endpoint")
	flags.StringVar(&problemID, "problem", "", "problem room to join")
	flags.StringVar(&token, "token", os.Getenv("RELAY_TOKEN"), "bearer token for the relay")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log channel activity")

	rootCmd.AddCommand(tokenCmd(), tailCmd(), cursorCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		bad.Fprintf(os.Stderr, "collabctl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openChannel connects to the configured room and returns a context that
// ends on interrupt
func openChannel(cmd *cobra.Command) (*channel.Channel, context.Context, context.CancelFunc, error) {
	if problemID == "" {
		return nil, nil, nil, fmt.Errorf("--problem is required")
	}
	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}

	ch, err := channel.New(channel.Options{
		URL:       relayURL,
		ProblemID: problemID,
		Token:     token,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ch.OnConnectionChange(func(connected bool) {
		if connected {
			info.Fprintf(cmd.ErrOrStderr(), "connected to %s\n", problemID)
		} else {
			warn.Fprintln(cmd.ErrOrStderr(), "connection lost, reconnecting")
		}
	})
	if err := ch.Connect(ctx); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ch, ctx, cancel, nil
}
