package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"because/internal/domain"
)

var (
	listQuery string
	listTopic string
	listJSON  bool
)

var addCmd = &cobra.Command{
	Use:   "add <content> <reason>",
	Short: "Save something and why it matters",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			it, err := a.items.Add(cmd.Context(), args[0], args[1])
			if err != nil {
				return userError(err)
			}
			// Wait so the topics are on disk before the process exits.
			a.items.Wait()
			it, _ = a.items.Get(it.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]\n", it.ID, topicList(it))
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved items, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var topic domain.Topic
		if listTopic != "" {
			t, ok := domain.ParseTopic(listTopic)
			if !ok {
				return fmt.Errorf("unknown topic %q", listTopic)
			}
			topic = t
		}
		return withApp(cmd.Context(), func(a *app) error {
			items := a.items.Filter(listQuery, topic)
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			printItems(cmd.OutOrStdout(), items)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <content> <reason>",
	Short: "Change an item's content and reason",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := a.items.ResolveID(args[0])
			if err != nil {
				return userError(err)
			}
			if _, err := a.items.Edit(cmd.Context(), id, args[1], args[2]); err != nil {
				return userError(err)
			}
			a.items.Wait()
			it, _ := a.items.Get(id)
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]\n", it.ID, topicList(it))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an item; press Ctrl+C during the undo window to keep it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := a.items.ResolveID(args[0])
			if err != nil {
				return userError(err)
			}
			it, err := a.items.Delete(id)
			if err != nil {
				return userError(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deleted %s. Press Ctrl+C within %s to undo.\n", it.Content, cfg.UndoWindow)

			if undoRequested(cmd.Context(), cfg.UndoWindow) {
				if _, err := a.items.Undo(); err != nil {
					return userError(err)
				}
				fmt.Fprintln(out, "Restored.")
			}
			return nil
		})
	},
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify <id>",
	Short: "Ask for fresh topics for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := a.items.ResolveID(args[0])
			if err != nil {
				return userError(err)
			}
			if err := a.items.Reclassify(id); err != nil {
				return userError(err)
			}
			a.items.Wait()
			it, _ := a.items.Get(id)
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]\n", it.ID, topicList(it))
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how items spread across topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			s := a.items.Stats()
			out := cmd.OutOrStdout()
			if len(s.Labels) == 0 {
				fmt.Fprintln(out, "Nothing saved yet.")
				return nil
			}
			for i, label := range s.Labels {
				fmt.Fprintf(out, "%-12s %4d  %5.1f\n", label, s.Counts[i], s.Values[i])
			}
			return nil
		})
	},
}

func init() {
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Only items whose content or reason contains this text")
	listCmd.Flags().StringVarP(&listTopic, "topic", "t", "", "Only items with this topic")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print items as JSON")
}

// undoRequested waits out the undo window and reports whether the user
// interrupted it.
func undoRequested(ctx context.Context, window time.Duration) bool {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-sigCtx.Done():
		return true
	}
}

func printItems(w io.Writer, items []domain.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing saved yet.")
		return
	}
	for _, it := range items {
		fmt.Fprintf(w, "%s  %s  [%s]\n%s\n\n", it.ID, it.CreatedAt.Local().Format("2006-01-02"), topicList(it), it.CopyText())
	}
}

func topicList(it domain.Item) string {
	parts := make([]string, 0, domain.MaxTopics)
	for _, t := range it.EffectiveTopics() {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}

// userError replaces a validation failure with its hint.
func userError(err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return errors.New(ve.Hint)
	}
	if domain.IsQuotaExceeded(err) {
		return fmt.Errorf("storage is full, delete or export some items first: %w", err)
	}
	return err
}
