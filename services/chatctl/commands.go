package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/model"
	"github.com/blogchat/internal/transport"
)

func init() {
	trashCmd.AddCommand(trashListCmd, trashRestoreCmd, trashPurgeCmd)
	exportCmd.Flags().StringP("format", "f", "txt", "export format: "+strings.Join(api.ExportFormats, "|"))
	exportCmd.Flags().StringP("out", "o", "", "output file (default: name suggested by the server)")
	sendCmd.Flags().String("reply-to", "", "id of the message being answered")
	rootCmd.AddCommand(conversationsCmd, trashCmd, sendCmd, exportCmd, unreadCmd, watchCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List active conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		me, err := self()
		if err != nil {
			return err
		}
		convs, err := newClient().ListActive(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWITH\tLAST MESSAGE\tUPDATED")
		for _, c := range convs {
			if c.TrashedBy(me.ID) {
				continue
			}
			last := ""
			if c.LastMessage != nil {
				last = truncate(c.LastMessage.Text, 40)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Other(me.ID).Name(), last, humanize.Time(c.UpdatedAt))
		}
		return w.Flush()
	},
}

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and manage trashed conversations",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed conversations with their deletion countdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		me, err := self()
		if err != nil {
			return err
		}
		convs, err := newClient().ListTrashed(cmd.Context())
		if err != nil {
			return err
		}
		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWITH\tDELETED\tDAYS LEFT")
		for _, c := range convs {
			mark, ok := c.DeletionFor(me.ID)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.ID, c.Other(me.ID).Name(), humanize.Time(mark.DeletedAt), model.DaysUntilDeletion(mark.DeletedAt, now))
		}
		return w.Flush()
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <conversation-id>",
	Short: "Move a conversation back to the active list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().RestoreConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
		return nil
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge <conversation-id>",
	Short: "Delete a conversation and all its messages for good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().PurgeConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <recipient-id> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args[2:], " "))
		if text == "" {
			return errors.New("message text is empty")
		}
		replyTo, _ := cmd.Flags().GetString("reply-to")
		msg, err := newClient().SendMessage(cmd.Context(), api.SendRequest{
			ConversationID: args[0],
			RecipientID:    args[1],
			Text:           text,
			ReplyTo:        replyTo,
		})
		if err != nil {
			return errors.New(api.UserMessage(err, err.Error()))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format(time.Kitchen))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Download a conversation export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		f, err := newClient().Export(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		if out == "" {
			out = f.Filename
		}
		if err := os.WriteFile(out, f.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.Bytes(uint64(len(f.Data))))
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the unread message count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		n, err := newClient().UnreadCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join the realtime channel and print events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		me, err := self()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conn, err := transport.Dial(ctx, transport.Options{URL: wsURL, Token: token})
		if err != nil {
			return err
		}
		conn.Start(ctx)
		defer func() {
			conn.Close()
			conn.Wait()
		}()
		if err := conn.Join(me.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "watching as %s, ctrl-c to stop\n", me.ID)
		return printEvents(ctx, cmd, conn.Events())
	},
}

func printEvents(ctx context.Context, cmd *cobra.Command, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("connection closed by server")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-28s %s\n", time.Now().Format("15:04:05"), ev.Type, ev.Payload)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
