package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

const ingestLong = `Ingest reads either a JSON document of the form {"events": [...]},
a bare JSON array of events, or one JSON event per line.`

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Ingest recorded events from a file or stdin",
	Long:  ingestLong,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		items, err := readEvents(in)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("no events in input")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := contextOf(cmd)
		var accepted, rejected, duplicates int
		for _, batch := range chunk(items, a.Config.Ingest.MaxBatch) {
			res, err := a.Ingest.Ingest(ctx, batch)
			if err != nil {
				return err
			}
			accepted += res.Accepted
			rejected += res.Rejected
			duplicates += res.Duplicates
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "rejected event %d (%s): %s\n", e.Index, e.ID, e.Reason)
			}
		}
		fmt.Fprintf(os.Stdout, "Accepted %d, rejected %d, duplicates %d.\n", accepted, rejected, duplicates)
		return nil
	},
}

// readEvents splits input into raw event documents.
func readEvents(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parse event array: %w", err)
		}
		return items, nil
	case '{':
		var doc struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &doc); err == nil && doc.Events != nil {
			return doc.Events, nil
		}
	}

	var items []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		items = append(items, json.RawMessage(bytes.Clone(text)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return items, nil
}

func chunk(items []json.RawMessage, size int) [][]json.RawMessage {
	if size <= 0 || len(items) <= size {
		return [][]json.RawMessage{items}
	}
	var out [][]json.RawMessage
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	return append(out, items)
}
