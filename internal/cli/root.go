// Package cli wires the client components together behind a cobra command
// tree: an interactive chat REPL as the root command plus one-shot session
// management subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	serverURL string
	debug     bool

	version string = "dev"
	commit  string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "arcadechat",
	Short: "Terminal client for the Arcade support chat",
	Long: `An interactive terminal client for the Arcade support chat service.

Messages stream into the terminal as the bot produces them. Conversations
are grouped into threads that live on the server; the client keeps only
your identity, auth token, and thread titles locally.

Quick Start:
  arcadechat                 # Start chatting
  arcadechat threads         # List your conversation threads

Inside the chat, type /help for the available commands.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.runChat(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default ~/.arcadechat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Chat server base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
