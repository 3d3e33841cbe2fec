package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/appforge/internal/types"
)

var (
	sessionListActive bool
	sessionListClosed bool
	sessionShowEvents int
	sessionPruneAge   time.Duration
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionCloseCmd, sessionPruneCmd)
	sessionListCmd.Flags().BoolVar(&sessionListActive, "active", false, "only open sessions")
	sessionListCmd.Flags().BoolVar(&sessionListClosed, "closed", false, "only closed sessions")
	sessionShowCmd.Flags().IntVar(&sessionShowEvents, "events", 20, "number of events to print (0 for none, -1 for all)")
	sessionPruneCmd.Flags().DurationVar(&sessionPruneAge, "older-than", 0, "age of closed sessions to delete (default: retention.max_age)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage recording sessions",
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionListActive && sessionListClosed {
			return fmt.Errorf("--active and --closed are mutually exclusive")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Ingest.Sessions(contextOf(cmd), types.SessionFilter{
			ActiveOnly: sessionListActive,
			ClosedOnly: sessionListClosed,
		})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tEVENTS\tSTARTED\tLAST EVENT")
		for _, s := range list {
			status := "closed"
			if s.Active() {
				status = "active"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				s.ID,
				status,
				s.EventCount,
				formatMillis(s.StartTime),
				formatMillis(s.LastEventTime),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its most recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := contextOf(cmd)
		id := types.SessionID(args[0])
		s, err := a.Ingest.Session(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("Session:    %s\n", s.ID)
		if s.UserID != "" {
			fmt.Printf("User:       %s\n", s.UserID)
		}
		fmt.Printf("Started:    %s\n", formatMillis(s.StartTime))
		fmt.Printf("Last event: %s\n", formatMillis(s.LastEventTime))
		if s.EndTime != nil {
			fmt.Printf("Closed:     %s\n", formatMillis(*s.EndTime))
		}
		fmt.Printf("Events:     %d\n", s.EventCount)

		if sessionShowEvents == 0 {
			return nil
		}
		limit := sessionShowEvents
		if limit < 0 {
			limit = 0
		}
		events, err := a.Ingest.Events(ctx, id, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tSCREEN\tACTION")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Seq,
				formatMillis(e.Timestamp),
				e.Type,
				e.Metadata.Screen,
				e.Metadata.Action,
			)
		}
		return w.Flush()
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a session and recognize its patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := contextOf(cmd)
		s, err := a.Ingest.CloseSession(ctx, types.SessionID(args[0]))
		if err != nil {
			return err
		}
		patterns, err := a.Engine.Patterns(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s closed (%d events, %d patterns).\n", s.ID, s.EventCount, len(patterns))
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete closed sessions past the retention age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		age := sessionPruneAge
		if age == 0 {
			age = a.Config.Retention.MaxAge
		}
		if age <= 0 {
			return fmt.Errorf("no retention age: pass --older-than or set retention.max_age")
		}
		n, err := a.Ingest.Prune(contextOf(cmd), age)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Pruned %d sessions.\n", n)
		return nil
	},
}
