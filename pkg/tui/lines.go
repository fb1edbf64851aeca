package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/staffdesk/pkg/chatclient"
)

// RunLines reads one message per line from in and writes the reply to out as
// it streams. "/reset" starts a new conversation. A failed reply is reported
// and the loop continues with the next line.
func RunLines(ctx context.Context, client *chatclient.Client, in io.Reader, out io.Writer) error {
	var printed int
	session := chatclient.NewSession(client, func(e chatclient.Entry) {
		if len(e.Content) > printed {
			fmt.Fprint(out, e.Content[printed:])
			printed = len(e.Content)
		}
	})

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/reset":
			if err := session.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(out, "[new conversation]")
			continue
		}

		printed = 0
		err := session.Send(ctx, line)
		if printed > 0 {
			fmt.Fprintln(out)
		}
		if err != nil {
			fmt.Fprintf(out, "[%s]\n", describe(err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}
