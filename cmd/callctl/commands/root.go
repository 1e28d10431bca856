package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/callrelay/internal/callclient"
)

const defaultServer = "http://localhost:8000"

var (
	// Global flags
	serverURL string
	callerID  string
	timeout   time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "Client for the voice call relay",
	Long: `callctl - place test calls against a voice call relay and inspect live calls.

The server URL comes from --server, then $CALLRELAY_URL, then
http://localhost:8000. A .env file in the working directory is loaded first.

Examples:
  # Speak two recordings into a call and save the replies
  callctl dial --user alice hello.wav question.wav -o replies/

  # List live calls and end one
  callctl calls list
  callctl calls end alice`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(loadEnv)

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "relay base URL")
	rootCmd.PersistentFlags().StringVarP(&callerID, "user", "u", "", "caller identity (server default when empty)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func loadEnv() {
	_ = godotenv.Load()
}

func server() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("CALLRELAY_URL"); env != "" {
		return env
	}
	return defaultServer
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func admin() *callclient.Admin {
	return callclient.NewAdmin(server(), nil)
}
