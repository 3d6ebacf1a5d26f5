package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/matgraph"
	"github.com/gogpu/matgraph/backend/native"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/technique"
)

// CompileOptions holds the options of the compile command.
type CompileOptions struct {
	setup    setupFlags
	Profile  string
	Output   string
	WGSL     bool
	Validate bool
}

func NewCompileCommand(cli *CLI) *cobra.Command {
	opts := &CompileOptions{}
	cmd := &cobra.Command{
		Use:   "compile <graph-id>",
		Short: "Compile a material graph for one setup",
		Long: "Generate the WGSL module of a graph for one setup and compile it.\n\n" +
			"The shader binary is written to <graph-id>.spv (or .wgsl for the wgsl\n" +
			"profile) unless --out is given. With --wgsl only the generated module is\n" +
			"printed and nothing is compiled.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, cli, opts, graph.GraphID(args[0]))
		},
	}
	opts.setup.register(cmd)
	cmd.Flags().StringVar(&opts.Profile, "profile", native.ProfileSPIRV, "target profile (spirv, wgsl)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output file")
	cmd.Flags().BoolVar(&opts.WGSL, "wgsl", false, "print the generated WGSL and exit")
	cmd.Flags().BoolVar(&opts.Validate, "validate", true, "validate the module before SPIR-V emission")
	return cmd
}

func runCompile(cmd *cobra.Command, cli *CLI, opts *CompileOptions, id graph.GraphID) error {
	s, err := opts.setup.setup()
	if err != nil {
		return err
	}
	lib, err := matgraph.New(
		matgraph.WithDir(cli.Dir),
		matgraph.WithConfig(technique.Config{Workers: 1, Profile: opts.Profile}),
		matgraph.WithCompilerOptions(native.WithValidation(opts.Validate)),
	)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := cmd.Context()
	if opts.WGSL {
		r, err := lib.Generate(ctx, id, s)
		if err != nil {
			return err
		}
		cli.Printf("%s", r.Source)
		return nil
	}

	c, err := lib.Compile(ctx, id, s)
	if err != nil {
		return err
	}
	out := opts.Output
	if out == "" {
		out = string(id) + extension(c.Shader.Profile)
	}
	if err := os.WriteFile(out, c.Shader.Code, 0o644); err != nil {
		return fmt.Errorf("write shader: %w", err)
	}
	cli.Printf("%s: %s, %d bytes -> %s\n", c.Key, c.Shader.Profile, len(c.Shader.Code), out)
	for _, line := range strings.Split(strings.TrimSpace(c.Shader.Diagnostics), "\n") {
		if line != "" {
			cli.Printf("  %s\n", line)
		}
	}
	return nil
}

func extension(profile string) string {
	if profile == native.ProfileWGSL {
		return ".wgsl"
	}
	return ".spv"
}
