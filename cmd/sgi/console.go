package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sgi/pkg/proto"
)

const consoleHelp = `Tapez un message, le numéro d'une option pour la choisir,
/photo <url> [légende] pour joindre une image, /quit pour sortir.`

// turner answers one inbound message. *orchestrator.Orchestrator implements it.
type turner interface {
	HandleTurn(ctx context.Context, in *proto.Inbound) proto.Outbound
}

func newConsoleCmd() *cobra.Command {
	var (
		user     string
		seedPath string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the assistant from the terminal",
		Long: `Chat with the assistant from the terminal, through the same
orchestrator, workflows and tools as the WhatsApp channel. Menus are
printed as numbered rows; answer with the number to pick one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), &cfg, seedPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if user == "" {
				user = uuid.NewString()[:8]
			}
			c := newConsole(st.turns, "console:"+user, cmd.OutOrStdout())
			c.prompt = term.IsTerminal(int(os.Stdin.Fd()))
			if c.prompt {
				fmt.Fprintf(c.out, "%s\n\n", consoleHelp)
			}
			return c.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "conversation identity suffix (random when empty)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML fixture loaded into the data store first")
	return cmd
}

// console is a line-oriented chat channel.
type console struct {
	turns    turner
	identity string
	out      io.Writer
	prompt   bool
	options  []proto.Row // rows of the last menu shown
	now      func() time.Time
}

func newConsole(turns turner, identity string, out io.Writer) *console {
	return &console{turns: turns, identity: identity, out: out, now: time.Now}
}

func (c *console) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for {
		if c.prompt {
			fmt.Fprint(c.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case ctx.Err() != nil:
			return nil
		}
		c.render(c.turns.HandleTurn(ctx, c.inbound(line)))
	}
}

// inbound turns a line into a message. A number picks a row of the last
// menu; /photo attaches an image by URL.
func (c *console) inbound(line string) *proto.Inbound {
	in := &proto.Inbound{
		Channel:    proto.ChannelConsole,
		Identity:   c.identity,
		DeliveryID: uuid.NewString(),
		ReceivedAt: c.now(),
	}
	if rest, ok := strings.CutPrefix(line, "/photo "); ok {
		url, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
		in.Media = &proto.MediaRef{
			ID:       uuid.NewString(),
			URL:      url,
			MimeType: "image/jpeg",
			Caption:  strings.TrimSpace(caption),
		}
		return in
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(c.options) {
		row := c.options[n-1]
		in.SelectionID, in.Text = row.ID, row.Title
		return in
	}
	in.Text = line
	return in
}

func (c *console) render(out proto.Outbound) {
	if out.Duplicate {
		return
	}
	text := strings.TrimSpace(out.Text)
	if text != "" {
		fmt.Fprintln(c.out, text)
	}

	c.options = nil
	if m := out.Interactive; m != nil {
		if body := strings.TrimSpace(m.Body); body != "" && body != text {
			fmt.Fprintln(c.out, body)
		}
		c.options = m.Options()
		for i, row := range c.options {
			if row.Description != "" {
				fmt.Fprintf(c.out, "  %d. %s · %s\n", i+1, row.Title, row.Description)
			} else {
				fmt.Fprintf(c.out, "  %d. %s\n", i+1, row.Title)
			}
		}
	}
	if out.MagicLink != "" {
		fmt.Fprintf(c.out, "🔗 %s\n", out.MagicLink)
	}
	fmt.Fprintln(c.out)
}
