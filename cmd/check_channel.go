package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/tg-ingest/internal/clock/system"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/server"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
)

const previewRunes = 60

// newCheckChannelCmd resolves one target with the saved session and prints
// its identity and most recent messages.
func newCheckChannelCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "check-channel <target>",
		Short: "Resolve a channel target and show its latest messages",
		Long: `Resolves a scrape_channels entry (link, @handle or numeric id) with the
saved session and prints the channel id, title and most recent messages. Use it
to find the numeric id of a private channel or to verify a target before adding it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return errors.New("--count must be > 0")
			}
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ds, closeStore, err := server.OpenDatastore(cmd.Context(), e.cfg.Database, e.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			clock := system.New()
			snap := settings.NewManager(ds, clock, e.cfg.Settings.TTL, e.logger).GetAll(cmd.Context())
			tgCfg, err := settings.Telegram(snap)
			if err != nil {
				return err
			}
			session, fetcher := server.NewTelegram(e.cfg, ds, clock, e.logger)
			defer func() { _ = session.Close() }()
			if err := session.EnsureConnected(cmd.Context(), tgCfg); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return checkChannel(cmd.Context(), cmd.OutOrStdout(), fetcher, args[0], count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of recent messages to show")
	return cmd
}

// channelReader is the part of the fetcher check-channel uses.
type channelReader interface {
	Resolve(ctx context.Context, target ingest.ChannelTarget) (ingest.Channel, error)
	Iterate(ctx context.Context, ch ingest.Channel, limit int) (telegram.MessageIterator, error)
}

func checkChannel(ctx context.Context, w io.Writer, reader channelReader, raw string, count int) error {
	targets := telegram.ParseTargets(raw, count)
	if len(targets) == 0 {
		return errors.New("empty target")
	}
	target := targets[0]

	ch, err := reader.Resolve(ctx, target)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgRed).Sprint("UNRESOLVED"), target.Raw)
		return err
	}
	fmt.Fprintf(w, "%s %s\n", color.New(color.FgGreen).Sprint("RESOLVED  "), target.Raw)
	fmt.Fprintf(w, "  id:       %d\n", ch.ID)
	fmt.Fprintf(w, "  title:    %s\n", ch.Title)
	if ch.Username != "" {
		fmt.Fprintf(w, "  username: @%s\n", ch.Username)
	}
	fmt.Fprintf(w, "  config:   %s\n", color.New(color.FgBlue).Sprintf("-100%d", ch.ID))

	it, err := reader.Iterate(ctx, ch, target.Limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	fmt.Fprintln(w, "  recent:")
	shown := 0
	for it.Next(ctx) {
		msg := it.Message()
		shown++
		photo := "     "
		if msg.HasPhoto() {
			photo = color.New(color.FgYellow).Sprint("photo")
		}
		fmt.Fprintf(w, "    #%-8d %s %s %s\n", msg.ID, msg.Date.Format("2006-01-02 15:04"), photo, preview(msg.Text))
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if shown == 0 {
		fmt.Fprintf(w, "    %s\n", color.New(color.FgYellow).Sprint("(no messages)"))
	}
	return nil
}

func preview(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	runes := []rune(line)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "…"
	}
	return line
}
