package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ashureev/callrelay/internal/callclient"
)

var (
	dialOutDir   string
	dialReplyExt string
	dialKeepOpen bool
)

var dialCmd = &cobra.Command{
	Use:   "dial <audio-file>...",
	Short: "Place a call and speak audio files into it",
	Long: `Open a call, send each audio file as one utterance and wait for the reply.

Replies are written to the output directory as reply-01.mp3, reply-02.mp3, ...
An error frame from the server (e.g. "speech synthesis failed") is reported
and the call continues with the next file.

Examples:
  callctl dial --user alice hello.wav
  callctl dial hello.wav question.wav -o replies/ --ext wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := callclient.Dial(ctx, server(), callerID, nil)
		if err != nil {
			return err
		}
		defer c.Close()
		fmt.Fprintln(cmd.OutOrStdout(), c.Greeting())

		if err := os.MkdirAll(dialOutDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}

		for i, path := range args {
			audio, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			reply, err := c.Ask(ctx, audio)
			var remote *callclient.RemoteError
			switch {
			case errors.As(err, &remote):
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, remote.Message)
				continue
			case err != nil:
				return fmt.Errorf("%s: %w", path, err)
			}

			out := filepath.Join(dialOutDir, fmt.Sprintf("reply-%02d.%s", i+1, dialReplyExt))
			if err := os.WriteFile(out, reply, 0o644); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", path, out, len(reply))
		}

		if dialKeepOpen {
			return nil
		}
		return c.Hangup(ctx)
	},
}

func init() {
	dialCmd.Flags().StringVarP(&dialOutDir, "out", "o", ".", "directory for reply audio")
	dialCmd.Flags().StringVar(&dialReplyExt, "ext", "mp3", "file extension for reply audio")
	dialCmd.Flags().BoolVar(&dialKeepOpen, "no-hangup", false, "drop the connection instead of sending end_call")

	rootCmd.AddCommand(dialCmd)
}
