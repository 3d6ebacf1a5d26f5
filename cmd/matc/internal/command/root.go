// Package command implements the matc subcommands.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/gogpu/matgraph"
)

// CLI holds the state shared by all subcommands.
type CLI struct {
	Out io.Writer
	Err io.Writer

	// Dir is the directory graph documents are read from.
	Dir   string
	Debug bool
}

// NewCLI creates a CLI writing to out and errOut.
func NewCLI(out, errOut io.Writer) *CLI {
	return &CLI{Out: out, Err: errOut, Dir: "."}
}

// Printf writes to the command output.
func (c *CLI) Printf(format string, a ...any) {
	fmt.Fprintf(c.Out, format, a...)
}

// Highlight applies the heading color to the given format and arguments.
func Highlight(format string, a ...any) string {
	return color.New(color.FgCyan, color.Bold).Sprintf(format, a...)
}

// logger returns a human readable logger on the error stream at level, or
// Debug when --debug is set.
func (c *CLI) logger(level slog.Level) *slog.Logger {
	if c.Debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(c.Err, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    color.NoColor,
	}))
}

// NewRootCommand creates the matc command tree.
func NewRootCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matc",
		Short: "Compile and inspect material graphs",
		Long: Highlight("matc [global options] <command> [args]") + "\n\n" +
			"matc compiles material graph documents (<id>.yaml files in a directory)\n" +
			"into WGSL and SPIR-V, prints their connectivity, and recompiles them as\n" +
			"they change.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.Out = cmd.OutOrStdout()
			cli.Err = cmd.ErrOrStderr()
			matgraph.SetLogger(cli.logger(slog.LevelWarn))
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVarP(&cli.Dir, "dir", "d", ".", "directory holding graph documents")
	cmd.PersistentFlags().BoolVar(&cli.Debug, "debug", false, "log at debug level")

	cmd.AddCommand(
		NewCompileCommand(cli),
		NewAnalyzeCommand(cli),
		NewWatchCommand(cli),
	)
	return cmd
}

// Execute runs matc with the process arguments and exits.
func Execute() {
	cli := NewCLI(os.Stdout, os.Stderr)
	root := NewRootCommand(cli)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
