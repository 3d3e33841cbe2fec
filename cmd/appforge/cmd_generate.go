package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/appforge/internal/codegen"
	"github.com/user/appforge/internal/types"
)

var (
	generateTarget  string
	generateTypes   []string
	generatePreview bool
	generateOut     string
)

func init() {
	rootCmd.AddCommand(generateCmd, targetsCmd)
	f := generateCmd.Flags()
	f.StringVar(&generateTarget, "target", "", "target profile (default: codegen.default_target)")
	f.StringSliceVar(&generateTypes, "type", nil, "artifact types to keep (repeatable)")
	f.BoolVar(&generatePreview, "preview", false, "list the artifacts without writing them")
	f.StringVar(&generateOut, "out", "stdout:", "destination: dir:<path> or stdout:")
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}

var generateCmd = &cobra.Command{
	Use:   "generate <modelID>",
	Short: "Generate source files from a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileTypes := make([]types.ArtifactType, 0, len(generateTypes))
		for _, t := range generateTypes {
			fileTypes = append(fileTypes, types.ArtifactType(strings.TrimSpace(t)))
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := contextOf(cmd)
		artifacts, err := a.Codegen.GenerateByID(ctx, types.ModelID(args[0]), generateTarget, fileTypes)
		if err != nil {
			return err
		}

		if generatePreview {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTYPE\tBYTES")
			for _, art := range codegen.Summaries(artifacts) {
				fmt.Fprintf(w, "%s\t%s\t%d\n", art.Path, art.Type, art.SizeBytes)
			}
			return w.Flush()
		}

		if err := codegen.DefaultExporters(os.Stdout).Export(ctx, generateOut, artifacts); err != nil {
			return err
		}
		if dir, ok := strings.CutPrefix(generateOut, "dir:"); ok {
			fmt.Fprintf(os.Stderr, "Wrote %d files to %s.\n", len(artifacts), dir)
		}
		return nil
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List code generation targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, name := range codegen.Targets() {
			p, err := codegen.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
		}
		return w.Flush()
	},
}
