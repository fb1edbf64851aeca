package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	archivecmder "github.com/papercomputeco/staffdesk/cmd/staffdesk/archive"
	authcmder "github.com/papercomputeco/staffdesk/cmd/staffdesk/auth"
	chatcmder "github.com/papercomputeco/staffdesk/cmd/staffdesk/chat"
	"github.com/papercomputeco/staffdesk/cmd/staffdesk/cliconfig"
	servecmder "github.com/papercomputeco/staffdesk/cmd/staffdesk/serve"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const rootLongDesc string = `staffdesk relays chat conversations to a language model and streams
the reply back as it is generated.

Run "staffdesk serve" to start the relay and "staffdesk chat" to talk to it.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "staffdesk",
		Short:         "Streaming chat relay and terminal client",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String(cliconfig.ConfigFlag, "", "Path to config file (default ~/.staffdesk/config.toml)")
	cmd.PersistentFlags().Bool(cliconfig.DebugFlag, false, "Enable debug logging")

	cmd.AddCommand(
		servecmder.NewServeCmd(),
		chatcmder.NewChatCmd(),
		chatcmder.NewAskCmd(),
		authcmder.NewLoginCmd(),
		authcmder.NewLogoutCmd(),
		authcmder.NewTokenCmd(),
		archivecmder.NewArchiveCmd(),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the staffdesk version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
