package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/matgraph/depot"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/setup"
	"github.com/gogpu/matgraph/technique"
)

func TestObserver(t *testing.T) {
	registry := prometheus.NewRegistry()
	o := New()
	o.MustRegister(registry)

	o.ObserveAcquire(false)
	o.ObserveAcquire(true)
	o.ObserveAcquire(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(o.acquires.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.acquires.WithLabelValues("miss")))

	o.ObserveCompile(3*time.Millisecond, nil)
	o.ObserveCompile(time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(o.compileTime))

	o.ObservePublish(false)
	o.ObservePublish(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.publishes.WithLabelValues("discarded")))

	o.ObserveBinary(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.binaries.WithLabelValues("miss")))

	o.ObserveReclaim(3)
	o.ObserveReclaim(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(o.reclaimed))

	err := testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP matgraph_technique_reclaimed_total Replaced techniques released after their frames completed.
# TYPE matgraph_technique_reclaimed_total counter
matgraph_technique_reclaimed_total 3
`), "matgraph_technique_reclaimed_total")
	require.NoError(t, err)
}

type passthrough struct{}

func (passthrough) Compile(_ context.Context, source, profile string) (*technique.ShaderBinary, error) {
	return &technique.ShaderBinary{Source: source, Profile: profile, Code: []byte(source)}, nil
}

func TestObserver_WithCache(t *testing.T) {
	g := graph.New("flat")
	require.NoError(t, g.AddBlock(&graph.Constant{BlockID: "c", Type: graph.TypeFloat3, Value: [4]float32{1, 0, 0}}))
	require.NoError(t, g.AddBlock(&graph.UnlitOutput{BlockID: "out"}))
	require.NoError(t, g.Connect("c", "Value", "out", "Color"))
	require.NoError(t, g.SetOutput("out"))

	o := New()
	o.MustRegister(prometheus.NewRegistry())
	c, err := technique.NewCache(depot.NewMemory(g), nil, passthrough{}, nil, technique.WithObserver(o))
	require.NoError(t, err)
	defer c.Close()

	s := setup.Default()
	s.Pass = graph.PassUnlit
	tech, err := c.Acquire(g.ID(), s)
	require.NoError(t, err)
	_, err = c.Acquire(g.ID(), s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tech.Wait(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.acquires.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.acquires.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.publishes.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.binaries.WithLabelValues("miss")))
}
