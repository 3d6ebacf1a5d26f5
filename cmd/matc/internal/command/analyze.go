package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/matgraph"
	"github.com/gogpu/matgraph/graph"
)

// AnalyzeOptions holds the options of the analyze command.
type AnalyzeOptions struct {
	Output string
}

// Report is the machine readable form of an analysis.
type Report struct {
	Graph       string         `yaml:"graph"`
	Revision    uint64         `yaml:"revision"`
	Outputs     []OutputReport `yaml:"outputs"`
	Unreachable []string       `yaml:"unreachable,omitempty"`
}

// OutputReport is the reachability of one output block.
type OutputReport struct {
	Output string        `yaml:"output"`
	Pass   string        `yaml:"pass"`
	Island int           `yaml:"island"`
	Blocks []BlockReport `yaml:"blocks,omitempty"`
	Error  string        `yaml:"error,omitempty"`
}

// BlockReport is one entry of a reachability list.
type BlockReport struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"`
	Depth int    `yaml:"depth"`
}

func NewAnalyzeCommand(cli *CLI) *cobra.Command {
	opts := &AnalyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <graph-id>",
		Short: "Print the connectivity of a material graph",
		Long: "Print the blocks driving every output of a graph in evaluation order,\n" +
			"the island each output belongs to, structural errors, and the blocks\n" +
			"that feed no output.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := matgraph.New(matgraph.WithDir(cli.Dir))
			if err != nil {
				return err
			}
			defer lib.Close()

			a, err := lib.Analyze(cmd.Context(), graph.GraphID(args[0]))
			if err != nil {
				return err
			}
			report := newReport(a)
			switch opts.Output {
			case "", "text":
				return printReport(cli, report)
			case "yaml":
				enc := yaml.NewEncoder(cli.Out)
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown output format %q", opts.Output)
			}
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func newReport(a *matgraph.Analysis) *Report {
	r := &Report{Graph: string(a.Graph.ID()), Revision: a.Graph.Revision()}
	for _, id := range a.Graph.Outputs() {
		out := OutputReport{Output: string(id)}
		if b, ok := a.Graph.Block(id); ok {
			if ob, ok := b.(graph.OutputBlock); ok {
				out.Pass = ob.Pass().String()
			}
		}
		if err, ok := a.Errors[id]; ok {
			out.Error = err.Error()
		}
		if reach, ok := a.Reach[id]; ok {
			out.Island = reach.Island
			for _, e := range reach.Entries {
				out.Blocks = append(out.Blocks, BlockReport{
					ID:    string(e.Block.ID()),
					Kind:  e.Block.Kind(),
					Depth: e.Depth,
				})
			}
		}
		r.Outputs = append(r.Outputs, out)
	}
	for _, id := range a.Unreachable {
		r.Unreachable = append(r.Unreachable, string(id))
	}
	return r
}

func printReport(cli *CLI, r *Report) error {
	headerFmt := color.New(color.FgGreen, color.Bold).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	cli.Printf("%s (revision %d)\n", Highlight("graph %s", r.Graph), r.Revision)
	for _, out := range r.Outputs {
		if out.Error != "" {
			cli.Printf("\noutput %s (%s): %s\n", out.Output, out.Pass, color.RedString(out.Error))
			continue
		}
		cli.Printf("\noutput %s (%s), island %d\n", out.Output, out.Pass, out.Island)
		tbl := table.New("Depth", "Block", "Kind").WithWriter(cli.Out)
		tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)
		for _, b := range out.Blocks {
			tbl.AddRow(b.Depth, b.ID, b.Kind)
		}
		tbl.Print()
	}
	if len(r.Unreachable) > 0 {
		cli.Printf("\nunreachable: %v\n", r.Unreachable)
	}
	return nil
}
