package chatcmder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/staffdesk/cmd/staffdesk/cliconfig"
	"github.com/papercomputeco/staffdesk/pkg/chatclient"
	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/pkg/logger"
	"github.com/papercomputeco/staffdesk/pkg/tui"
)

const chatLongDesc string = `Chat with the relay in the terminal.

Replies stream in as they are generated. The conversation lives in this
process only and is resent in full with every message. When stdin is not
a terminal each input line is sent as one message.

Examples:
  staffdesk chat
  staffdesk chat --relay http://relay.internal:8080
  echo "Summarize our onboarding steps" | staffdesk chat`

const chatShortDesc string = "Interactive chat against the relay"

const askLongDesc string = `Send one message to the relay and print the reply as it streams.

Examples:
  staffdesk ask "What is on the hiring checklist?"`

const askShortDesc string = "Ask a single question"

type chatCommander struct {
	relayURL string
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.runChat(cmd.Context(), cmd)
		},
	}
	cmd.Flags().StringVarP(&cmder.relayURL, "relay", "r", "", "Relay base URL")

	return cmd
}

func NewAskCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runAsk(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&cmder.relayURL, "relay", "r", "", "Relay base URL")

	return cmd
}

// client builds a relay client carrying the stored bearer token, if any.
func (c *chatCommander) client(cmd *cobra.Command) (*chatclient.Client, error) {
	cfg, _, err := cliconfig.Load(cmd)
	if err != nil {
		return nil, err
	}
	if c.relayURL != "" {
		cfg.Client.RelayURL = c.relayURL
	}

	tokens, err := chatclient.NewTokenStore(cfg.Client.TokenPath)
	if err != nil {
		return nil, err
	}
	if err := tokens.Init(); err != nil {
		return nil, err
	}

	opts := []chatclient.Option{chatclient.WithTokenStore(tokens)}
	if cfg.Log.Debug {
		// stdout belongs to the chat screen.
		l := logger.NewLoggerTo(os.Stderr, true, false)
		opts = append(opts, chatclient.WithLogger(l.With(zap.String("relay", cfg.Client.RelayURL))))
	}
	return chatclient.New(cfg.Client.RelayURL, opts...), nil
}

func (c *chatCommander) runChat(ctx context.Context, cmd *cobra.Command) error {
	client, err := c.client(cmd)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		return tui.Run(ctx, client)
	}
	return tui.RunLines(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
}

func (c *chatCommander) runAsk(ctx context.Context, cmd *cobra.Command, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return llm.ValidationError("message is empty")
	}

	client, err := c.client(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var printed bool
	conv := llm.Conversation{{Role: llm.RoleUser, Content: message}}
	_, err = client.Stream(ctx, conv, func(chunk string) {
		fmt.Fprint(out, chunk)
		printed = true
	})
	if printed {
		fmt.Fprintln(out)
	}
	return err
}
