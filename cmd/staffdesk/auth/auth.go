package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/staffdesk/cmd/staffdesk/cliconfig"
	"github.com/papercomputeco/staffdesk/pkg/auth"
	"github.com/papercomputeco/staffdesk/pkg/chatclient"
)

const loginLongDesc string = `Store a bearer token for the chat commands.

The token is read from --token, or from stdin when the flag is omitted,
and saved to ~/.staffdesk/token (or client.token_path) readable by the
current user only.

Examples:
  staffdesk login --token eyJhbGciOi...
  staffdesk token issue --subject alice | staffdesk login`

const loginShortDesc string = "Store a bearer token"

const logoutShortDesc string = "Remove the stored bearer token"

const tokenIssueLongDesc string = `Mint a bearer token signed with auth.jwt_secret.

Intended for local use and testing; the relay must share the same secret.

Examples:
  staffdesk token issue --subject alice
  staffdesk token issue --subject alice --ttl 1h --save`

const tokenIssueShortDesc string = "Mint a bearer token"

type loginCommander struct {
	token string
}

func NewLoginCmd() *cobra.Command {
	cmder := &loginCommander{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: loginShortDesc,
		Long:  loginLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}
	cmd.Flags().StringVarP(&cmder.token, "token", "t", "", "Bearer token to store")

	return cmd
}

func (c *loginCommander) run(cmd *cobra.Command) error {
	tokens, err := tokenStore(cmd)
	if err != nil {
		return err
	}

	token := c.token
	if token == "" {
		token, err = readToken(cmd)
		if err != nil {
			return err
		}
	}

	if err := tokens.Save(token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", tokens.Path())
	return nil
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Token: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("could not read token: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("could not read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: logoutShortDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := tokenStore(cmd)
			if err != nil {
				return err
			}
			if err := tokens.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

type tokenIssueCommander struct {
	subject string
	ttl     time.Duration
	save    bool
}

func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	cmder := &tokenIssueCommander{}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: tokenIssueShortDesc,
		Long:  tokenIssueLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}
	cmd.Flags().StringVarP(&cmder.subject, "subject", "s", "", "Token subject (user name)")
	cmd.Flags().DurationVar(&cmder.ttl, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	cmd.Flags().BoolVar(&cmder.save, "save", false, "Also store the token for the chat commands")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func (c *tokenIssueCommander) run(cmd *cobra.Command) error {
	cfg, _, err := cliconfig.Load(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	ttl := cfg.Auth.TokenTTL.Duration
	if c.ttl > 0 {
		ttl = c.ttl
	}
	a, err := auth.New(cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}
	token, err := a.Issue(c.subject)
	if err != nil {
		return err
	}

	if c.save {
		tokens, err := chatclient.NewTokenStore(cfg.Client.TokenPath)
		if err != nil {
			return err
		}
		if err := tokens.Save(token); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func tokenStore(cmd *cobra.Command) (*chatclient.TokenStore, error) {
	cfg, _, err := cliconfig.Load(cmd)
	if err != nil {
		return nil, err
	}
	return chatclient.NewTokenStore(cfg.Client.TokenPath)
}
