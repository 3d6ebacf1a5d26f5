package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
)

// setupFlags describes one compilation setup on the command line.
type setupFlags struct {
	pass        string
	layout      string
	features    []string
	colorFormat string
	depthFormat string
	samples     uint32
}

func (f *setupFlags) register(cmd *cobra.Command) {
	def := setup.Default()
	fl := cmd.Flags()
	fl.StringVar(&f.pass, "pass", def.Pass.String(), "render pass (opaque, unlit, transparent)")
	fl.StringVar(&f.layout, "layout", def.Layout.String(), "vertex layout, e.g. position+normal+uv0")
	fl.StringSliceVar(&f.features, "feature", def.Flags(),
		"feature flags (two-sided, alpha-blend, depth-test, depth-write, wireframe)")
	fl.StringVar(&f.colorFormat, "color-format", def.ColorFormat.String(), "color target format")
	fl.StringVar(&f.depthFormat, "depth-format", def.DepthFormat.String(), "depth target format")
	fl.Uint32Var(&f.samples, "samples", def.SampleCount, "MSAA sample count")
}

// setup builds and validates the setup described by the flags.
func (f *setupFlags) setup() (setup.Setup, error) {
	var s setup.Setup
	var err error
	if s.Pass, err = graph.ParsePass(f.pass); err != nil {
		return s, err
	}
	if s.Layout, err = setup.ParseVertexLayout(f.layout); err != nil {
		return s, err
	}
	for _, name := range f.features {
		if err := s.SetFlag(name); err != nil {
			return s, err
		}
	}
	if s.ColorFormat, err = setup.ParseTextureFormat(f.colorFormat); err != nil {
		return s, err
	}
	if s.DepthFormat, err = setup.ParseTextureFormat(f.depthFormat); err != nil {
		return s, err
	}
	s.SampleCount = f.samples
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid setup: %w", err)
	}
	return s, nil
}
