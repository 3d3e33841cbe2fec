package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/appforge/internal/synth"
	"github.com/user/appforge/internal/types"
)

var (
	synthSessions    []string
	synthPatterns    []string
	synthID          string
	synthName        string
	synthDescription string

	modelListMinConfidence float64
	modelListLimit         int
	modelListOffset        int

	modelGetPatterns bool

	modelUpdateFile string
)

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelSynthesizeCmd, modelListCmd, modelGetCmd, modelUpdateCmd, modelDeleteCmd)

	f := modelSynthesizeCmd.Flags()
	f.StringSliceVar(&synthSessions, "session", nil, "session whose patterns to use (repeatable)")
	f.StringSliceVar(&synthPatterns, "pattern", nil, "pattern id to use (repeatable)")
	f.StringVar(&synthID, "id", "", "model id (default: generated)")
	f.StringVar(&synthName, "name", "", "model name")
	f.StringVar(&synthDescription, "description", "", "model description")

	modelListCmd.Flags().Float64Var(&modelListMinConfidence, "min-confidence", 0, "only models at or above this confidence")
	modelListCmd.Flags().IntVar(&modelListLimit, "limit", 0, "maximum number of models (0 for all)")
	modelListCmd.Flags().IntVar(&modelListOffset, "offset", 0, "models to skip")

	modelGetCmd.Flags().BoolVar(&modelGetPatterns, "patterns", false, "include the source patterns")

	modelUpdateCmd.Flags().StringVarP(&modelUpdateFile, "file", "f", "-", "JSON patch file (- for stdin)")
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Synthesize and manage application models",
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var modelSynthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Build a model from recognized patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		src := synth.Source{}
		for _, id := range synthSessions {
			src.SessionIDs = append(src.SessionIDs, types.SessionID(id))
		}
		for _, id := range synthPatterns {
			src.PatternIDs = append(src.PatternIDs, types.PatternID(id))
		}
		model, err := a.Synth.SynthesizeFrom(contextOf(cmd), src, synth.Options{
			ID:          types.ModelID(synthID),
			Name:        synthName,
			Description: synthDescription,
		})
		if err != nil {
			return err
		}
		return printJSON(model)
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		page, err := a.Synth.List(contextOf(cmd), synth.Filter{
			MinConfidence: modelListMinConfidence,
			Limit:         modelListLimit,
			Offset:        modelListOffset,
		})
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Println("No models found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tCONFIDENCE\tENTITIES\tSCREENS\tUPDATED")
		for _, m := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%s\n",
				m.ID,
				m.Name,
				m.Version,
				m.Confidence,
				len(m.Entities),
				len(m.Screens),
				m.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(page.Items) < page.Total {
			fmt.Printf("\n%d of %d models.\n", len(page.Items), page.Total)
		}
		return nil
	},
}

var modelGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a model as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.Synth.Get(contextOf(cmd), types.ModelID(args[0]), modelGetPatterns)
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

var modelUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Apply a JSON patch to a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if modelUpdateFile == "-" {
			data, err = readAllStdin()
		} else {
			data, err = os.ReadFile(modelUpdateFile)
		}
		if err != nil {
			return fmt.Errorf("read patch: %w", err)
		}
		var patch synth.Patch
		if err := json.Unmarshal(data, &patch); err != nil {
			return fmt.Errorf("parse patch: %w", err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		model, err := a.Synth.Update(contextOf(cmd), types.ModelID(args[0]), patch)
		if err != nil {
			return err
		}
		return printJSON(model)
	},
}

var modelDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Synth.Delete(contextOf(cmd), types.ModelID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Model %s deleted.\n", args[0])
		return nil
	},
}
