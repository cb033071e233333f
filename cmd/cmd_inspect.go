// cmd_inspect.go - Inspect Command fuer gespeicherte Modelle
// Hauptfunktionen: InspectHandler, showSummary
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fastbert/trainer/artifacts"
	"github.com/fastbert/trainer/checkpoint"
	"github.com/fastbert/trainer/format"
	"github.com/fastbert/trainer/tokenizer"
)

const maxTensorNameWidth = 60

// InspectHandler - Zeigt Gewichte, Labels und Tokenizer eines Modellverzeichnisses
func InspectHandler(cmd *cobra.Command, args []string) error {
	dir := jobLayout(cmd).ModelDir()
	if len(args) > 0 {
		dir = args[0]
	}

	summary, err := checkpoint.Inspect(dir)
	if err != nil {
		return err
	}

	tok, err := tokenizer.Load(dir, summary.ModelType)
	if err != nil {
		slog.Debug("no tokenizer", "dir", dir, "error", err)
		tok = nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	w := cmd.OutOrStdout()
	showSummary(summary, tok, verbose, w)

	if err := artifacts.Summary(w, dir); err != nil {
		return err
	}

	if check, _ := cmd.Flags().GetBool("check"); check {
		if tok == nil {
			return fmt.Errorf("%s: no tokenizer found", dir)
		}
		if _, err := artifacts.Verify(dir, artifacts.Required(tok)); err != nil {
			return err
		}
		return checkpoint.VerifyHead(summary, summary.NumLabels)
	}
	return nil
}

func showSummary(s *checkpoint.Summary, tok *tokenizer.Tokenizer, verbose bool, w io.Writer) {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	tableRender("Model", func() (rows [][]string) {
		rows = append(rows, []string{"", "architecture", s.ModelType})
		rows = append(rows, []string{"", "weights", s.WeightFile + " (" + s.Format + ")"})
		rows = append(rows, []string{"", "parameters", format.HumanNumber(uint64(s.Parameters))})
		rows = append(rows, []string{"", "dtypes", strings.Join(s.DTypes, ", ")})
		if s.Head != nil {
			rows = append(rows, []string{"", "head", s.Head.String()})
		}
		return
	})

	if len(s.Labels) > 0 {
		tableRender("Labels", func() (rows [][]string) {
			for i, label := range s.Labels {
				rows = append(rows, []string{"", strconv.Itoa(i), label})
			}
			return
		})
	}

	if tok != nil {
		tableRender("Tokenizer", func() (rows [][]string) {
			rows = append(rows, []string{"", "kind", string(tok.Kind)})
			rows = append(rows, []string{"", "vocab size", strconv.Itoa(tok.VocabSize)})
			rows = append(rows, []string{"", "lower case", strconv.FormatBool(tok.DoLowerCase)})
			if tok.ModelMaxLength > 0 {
				rows = append(rows, []string{"", "max length", strconv.Itoa(tok.ModelMaxLength)})
			}
			rows = append(rows, []string{"", "files", strings.Join(tok.VocabFiles(), ", ")})
			return
		})
	}

	if !verbose {
		return
	}

	if len(s.Metadata) > 0 {
		tableRender("Metadata", func() (rows [][]string) {
			for _, k := range slices.Sorted(maps.Keys(s.Metadata)) {
				rows = append(rows, []string{"", k, s.Metadata[k]})
			}
			return
		})
	}

	tableRender("Tensors", func() (rows [][]string) {
		for _, t := range s.Tensors {
			dims := make([]string, len(t.Shape))
			for i, d := range t.Shape {
				dims[i] = strconv.FormatInt(d, 10)
			}
			rows = append(rows, []string{"", runewidth.Truncate(t.Name, maxTensorNameWidth, "..."), t.DType, "[" + strings.Join(dims, ", ") + "]"})
		}
		return
	})
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [DIR]",
		Short: "Show weights, labels and tokenizer of a saved model (default model/)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().Bool("verbose", false, "Show metadata and all tensors")
	inspectCmd.Flags().Bool("check", false, "Fail unless all artifacts exist and the head matches the labels")
	return inspectCmd
}
