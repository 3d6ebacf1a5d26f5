package technique

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/internal/parallel"
	"github.com/gogpu/matgraph/reload"
	"github.com/gogpu/matgraph/setup"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeSource struct {
	mu     sync.Mutex
	graphs map[graph.GraphID]*graph.Graph
}

func newFakeSource(gs ...*graph.Graph) *fakeSource {
	s := &fakeSource{graphs: make(map[graph.GraphID]*graph.Graph)}
	for _, g := range gs {
		s.graphs[g.ID()] = g
	}
	return s
}

func (s *fakeSource) Graph(_ context.Context, id graph.GraphID) (*graph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("no graph %q", id)
	}
	return g, nil
}

type fakeCompiler struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeCompiler) Compile(ctx context.Context, source, profile string) (*ShaderBinary, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ShaderBinary{Code: []byte(source)}, nil
}

type fakePipeline struct {
	destroyed atomic.Int32
}

func (p *fakePipeline) Destroy() { p.destroyed.Add(1) }

type fakeFactory struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
}

func (f *fakeFactory) CreatePipeline(context.Context, *PipelineRequest) (Pipeline, error) {
	p := &fakePipeline{}
	f.mu.Lock()
	f.pipelines = append(f.pipelines, p)
	f.mu.Unlock()
	return p, nil
}

type epochCounter struct{ atomic.Uint64 }

func (e *epochCounter) Epoch() uint64 { return e.Load() }

func roughnessGraph(t *testing.T, id graph.GraphID) *graph.Graph {
	t.Helper()
	g := graph.New(id)
	for _, b := range []graph.Block{
		&graph.OpaqueOutput{BlockID: "out"},
		&graph.ScalarParameter{BlockID: "rough", Name: "Roughness", Default: 0.5},
		&graph.Constant{BlockID: "half", Type: graph.TypeFloat, Value: [4]float32{0.5}},
		&graph.Math{BlockID: "mul", Op: graph.OpMultiply},
	} {
		if err := g.AddBlock(b); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range [][4]string{
		{"rough", "Value", "mul", "A"},
		{"half", "Value", "mul", "B"},
		{"mul", "Result", "out", "Roughness"},
	} {
		if err := g.Connect(graph.BlockID(c[0]), c[1], graph.BlockID(c[2]), c[3]); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.SetOutput("out"); err != nil {
		t.Fatal(err)
	}
	return g
}

func newTestCache(t *testing.T, src GraphSource, sc ShaderCompiler, pf PipelineFactory, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithConfig(Config{Workers: 2})}, opts...)
	c, err := NewCache(src, nil, sc, pf, opts...)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func wait(t *testing.T, tech *Technique) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tech.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("technique did not go idle")
	}
	return err
}

// =============================================================================
// Construction
// =============================================================================

func TestNewCache_RequiresCompiler(t *testing.T) {
	if _, err := NewCache(newFakeSource(), nil, nil, nil); !errors.Is(err, ErrNoShaderCompiler) {
		t.Errorf("NewCache(nil compiler) error = %v, want ErrNoShaderCompiler", err)
	}
	if _, err := NewCache(nil, nil, &fakeCompiler{}, nil); !errors.Is(err, ErrNoGraphSource) {
		t.Errorf("NewCache(nil source) error = %v, want ErrNoGraphSource", err)
	}
}

// =============================================================================
// Acquire
// =============================================================================

func TestCache_AcquireIdentity(t *testing.T) {
	sc := &fakeCompiler{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), sc, nil)

	a, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("equal keys returned different techniques")
	}
	if err := wait(t, a); err != nil {
		t.Fatalf("compile error = %v", err)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Techniques != 1 {
		t.Errorf("Stats() = %+v, want 1 hit, 1 miss, 1 technique", st)
	}
	if st.Compiles != 1 || sc.calls.Load() != 1 {
		t.Errorf("compiles = %d, compiler calls = %d, want 1 and 1", st.Compiles, sc.calls.Load())
	}
	if a.State() != StatePublished {
		t.Errorf("State() = %v, want published", a.State())
	}
}

func TestCache_AcquireConcurrentIdentity(t *testing.T) {
	sc := &fakeCompiler{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), sc, nil)

	const goroutines = 32
	got := make([]*Technique, goroutines)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tech, err := c.Acquire("rock", setup.Default())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			got[i] = tech
		}()
	}
	close(start)
	wg.Wait()

	for i, tech := range got {
		if tech != got[0] {
			t.Fatalf("goroutine %d got a different technique", i)
		}
	}
	if err := wait(t, got[0]); err != nil {
		t.Fatalf("compile error = %v", err)
	}
	st := c.Stats()
	if st.Misses != 1 || st.Hits != goroutines-1 || st.Techniques != 1 {
		t.Errorf("Stats() = %+v, want 1 miss, %d hits, 1 technique", st, goroutines-1)
	}
	if n := sc.calls.Load(); n != 1 {
		t.Errorf("compiler calls = %d, want 1", n)
	}
}

func TestCache_AcquireRejectsInvalidSetup(t *testing.T) {
	c := newTestCache(t, newFakeSource(), &fakeCompiler{}, nil)
	s := setup.Default()
	s.SampleCount = 3
	if _, err := c.Acquire("rock", s); !errors.Is(err, setup.ErrSampleCount) {
		t.Errorf("Acquire() error = %v, want ErrSampleCount", err)
	}
}

func TestCache_RoughnessScenario(t *testing.T) {
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, &fakeFactory{})

	single, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	s := setup.Default()
	s.TwoSided = true
	double, err := c.Acquire("rock", s)
	if err != nil {
		t.Fatal(err)
	}
	if single == double {
		t.Fatal("two-sided setup shares the single-sided technique")
	}
	if err := wait(t, single); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, double); err != nil {
		t.Fatal(err)
	}

	cur := single.Current()
	if len(cur.Layout.Constants) != 1 || cur.Layout.Constants[0].Name != "Roughness" {
		t.Errorf("Constants = %+v, want exactly Roughness", cur.Layout.Constants)
	}
	if cur.Pipeline == nil {
		t.Error("no pipeline created")
	}
	if cm := double.Current().Override.CullMode; cm == nil || *cm != gputypes.CullModeNone {
		t.Errorf("two-sided override CullMode = %v, want None", cm)
	}
	if single.Current().RenderState.CullMode != gputypes.CullModeBack {
		t.Errorf("single-sided CullMode = %v, want Back", single.Current().RenderState.CullMode)
	}
}

func TestCache_EmptyBeforeFirstCompile(t *testing.T) {
	sc := &fakeCompiler{started: make(chan struct{}, 1), gate: make(chan struct{})}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), sc, nil)

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	<-sc.started
	if cur := tech.Current(); !cur.IsEmpty() {
		t.Errorf("Current() = %p before compile, want Empty", cur)
	}
	if tech.State() != StateCompiling {
		t.Errorf("State() = %v, want compiling", tech.State())
	}
	close(sc.gate)
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	if tech.Current().IsEmpty() {
		t.Error("Current() still Empty after compile")
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestCache_ShaderFailureKeepsEmpty(t *testing.T) {
	boom := errors.New("boom")
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{err: boom}, nil)

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	err = wait(t, tech)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want boom", err)
	}
	if ce := AsCompileError(err); ce == nil || ce.Stage != StageShader || ce.Key != tech.Key() {
		t.Errorf("CompileError = %+v", ce)
	}
	if !tech.Current().IsEmpty() || tech.State() != StateUninitialized {
		t.Errorf("failed technique state = %v, current empty = %v", tech.State(), tech.Current().IsEmpty())
	}
	if c.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", c.Stats().Failures)
	}
}

type panicFactory struct{}

func (panicFactory) CreatePipeline(context.Context, *PipelineRequest) (Pipeline, error) {
	panic("driver bug")
}

func TestCache_PanicBecomesError(t *testing.T) {
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, panicFactory{})

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); !errors.Is(err, ErrPanic) {
		t.Fatalf("Wait() = %v, want ErrPanic", err)
	}
	if !tech.Current().IsEmpty() {
		t.Error("panicking build published a result")
	}
	if s := c.Stats(); s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
}

func TestCache_DanglingKeepsPublished(t *testing.T) {
	g := roughnessGraph(t, "rock")
	c := newTestCache(t, newFakeSource(g), &fakeCompiler{}, nil)

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	good := tech.Current()

	if !g.Disconnect("mul", "B") {
		t.Fatal("Disconnect(mul.B) removed nothing")
	}
	tech.Invalidate()
	err = wait(t, tech)
	if !errors.Is(err, graph.ErrDanglingSocket) {
		t.Fatalf("Wait() = %v, want ErrDanglingSocket", err)
	}
	se := graph.AsStructural(err)
	if se.Block != "mul" || se.Socket != "B" {
		t.Errorf("error at %s.%s, want mul.B", se.Block, se.Socket)
	}
	if ce := AsCompileError(err); ce == nil || ce.Stage != StageGenerate {
		t.Errorf("CompileError = %+v, want generate stage", ce)
	}
	if tech.Current() != good {
		t.Error("failed recompile replaced the published result")
	}
	if tech.State() != StatePublished {
		t.Errorf("State() = %v, want published", tech.State())
	}
}

// =============================================================================
// Hot swap
// =============================================================================

func TestTechnique_StaleDiscard(t *testing.T) {
	c := newTestCache(t, newFakeSource(), &fakeCompiler{}, nil)
	key := setup.NewKey("rock", setup.Default())
	tech := newTechnique(c, key)
	tech.requested.Store(2)

	newer := &Compiled{Key: key, Generation: 2}
	older := &Compiled{Key: key, Generation: 1, Pipeline: &fakePipeline{}}

	if !tech.publish(newer) {
		t.Fatal("generation 2 not published")
	}
	if tech.publish(older) {
		t.Error("generation 1 published over generation 2")
	}
	if tech.Current() != newer {
		t.Error("stale result overwrote the newer one")
	}
	if older.Pipeline.(*fakePipeline).destroyed.Load() != 1 {
		t.Error("discarded pipeline not destroyed")
	}
	if c.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", c.Stats().Discarded)
	}
}

func TestTechnique_PublishForeignKeyPanics(t *testing.T) {
	c := newTestCache(t, newFakeSource(), &fakeCompiler{}, nil)
	tech := newTechnique(c, setup.NewKey("rock", setup.Default()))
	defer func() {
		if recover() == nil {
			t.Error("publishing a foreign key did not panic")
		}
	}()
	tech.publish(&Compiled{Key: setup.NewKey("sand", setup.Default()), Generation: 1})
}

func TestTechnique_NoTornReads(t *testing.T) {
	c := newTestCache(t, newFakeSource(), &fakeCompiler{}, nil)
	key := setup.NewKey("rock", setup.Default())
	tech := newTechnique(c, key)

	const publishes = 2000
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var bad atomic.Int32
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur := tech.Current()
				if cur == nil {
					bad.Add(1)
					continue
				}
				if !cur.IsEmpty() && cur.Source != strconv.FormatUint(cur.Hash, 10) {
					bad.Add(1)
				}
			}
		}()
	}

	for gen := uint64(1); gen <= publishes; gen++ {
		tech.requested.Store(gen)
		tech.publish(&Compiled{Key: key, Generation: gen, Hash: gen, Source: strconv.FormatUint(gen, 10)})
	}
	close(stop)
	wg.Wait()

	if bad.Load() != 0 {
		t.Errorf("%d torn or nil reads", bad.Load())
	}
	if tech.Current().Generation != publishes {
		t.Errorf("final generation = %d, want %d", tech.Current().Generation, publishes)
	}
}

func TestTechnique_CoalescesRecompiles(t *testing.T) {
	sc := &fakeCompiler{started: make(chan struct{}, 1), gate: make(chan struct{})}
	pf := &fakeFactory{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), sc, pf)

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	<-sc.started
	tech.Invalidate()
	tech.Invalidate()
	close(sc.gate)
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}

	if got := tech.Current().Generation; got != 3 {
		t.Errorf("published generation = %d, want 3", got)
	}
	st := c.Stats()
	if st.Compiles != 2 {
		t.Errorf("Compiles = %d, want 2 (in-flight plus one coalesced)", st.Compiles)
	}
	if st.Discarded != 1 || st.Published != 1 {
		t.Errorf("Discarded/Published = %d/%d, want 1/1", st.Discarded, st.Published)
	}
	if sc.calls.Load() != 1 {
		t.Errorf("compiler calls = %d, want 1 (identical source reuses the binary)", sc.calls.Load())
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(pf.pipelines) != 2 || pf.pipelines[0].destroyed.Load() != 1 {
		t.Errorf("stale pipeline not destroyed")
	}
}

// =============================================================================
// Reclamation
// =============================================================================

func TestCache_Reclaim(t *testing.T) {
	epochs := &epochCounter{}
	pf := &fakeFactory{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, pf, WithEpochSource(epochs))

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	first := tech.Current()

	epochs.Store(7)
	tech.Invalidate()
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	if tech.Current() == first {
		t.Fatal("recompile did not publish")
	}
	if tech.Expired() != 1 {
		t.Fatalf("Expired() = %d, want 1", tech.Expired())
	}

	if n := c.Reclaim(6); n != 0 {
		t.Errorf("Reclaim(6) = %d, want 0", n)
	}
	if n := c.Reclaim(7); n != 1 {
		t.Errorf("Reclaim(7) = %d, want 1", n)
	}
	if first.Pipeline.(*fakePipeline).destroyed.Load() != 1 {
		t.Error("reclaimed pipeline not destroyed")
	}
	if tech.Current().Pipeline.(*fakePipeline).destroyed.Load() != 0 {
		t.Error("published pipeline destroyed")
	}
	if c.Stats().Reclaimed != 1 {
		t.Errorf("Reclaimed = %d, want 1", c.Stats().Reclaimed)
	}
}

// =============================================================================
// Reload
// =============================================================================

func TestCache_RegistryRecompiles(t *testing.T) {
	reg := reload.NewRegistry()
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, nil, WithRegistry(reg))

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 1 {
		t.Errorf("registry Len() = %d, want 1", reg.Len())
	}

	reg.NotifyAll()
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	if tech.Current().Generation != 2 {
		t.Errorf("generation after reload = %d, want 2", tech.Current().Generation)
	}
	if tech.Invalidated() {
		t.Error("Invalidated() still set after recompiling")
	}

	c.Close()
	if reg.Len() != 0 {
		t.Errorf("registry Len() after Close = %d, want 0", reg.Len())
	}
}

func TestCache_ManualReload(t *testing.T) {
	reg := reload.NewRegistry()
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, nil,
		WithRegistry(reg), WithAutoRecompile(false))

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}

	reg.NotifyAll()
	if !tech.Invalidated() || tech.State() != StatePublished {
		t.Fatalf("after notify: invalidated = %v, state = %v", tech.Invalidated(), tech.State())
	}
	if _, err := c.Acquire("rock", setup.Default()); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	if tech.Generation() != 2 || tech.Invalidated() {
		t.Errorf("generation = %d, invalidated = %v, want 2 and false", tech.Generation(), tech.Invalidated())
	}
}

func TestCache_InvalidateGraph(t *testing.T) {
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock"), roughnessGraph(t, "sand")), &fakeCompiler{}, nil)

	two := setup.Default()
	two.TwoSided = true
	for _, id := range []graph.GraphID{"rock", "sand"} {
		for _, s := range []setup.Setup{setup.Default(), two} {
			if _, err := c.Acquire(id, s); err != nil {
				t.Fatal(err)
			}
		}
	}
	if n := c.InvalidateGraph("rock"); n != 2 {
		t.Errorf("InvalidateGraph(rock) = %d, want 2", n)
	}
	if n := c.InvalidateAll(); n != 4 {
		t.Errorf("InvalidateAll() = %d, want 4", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	for _, tech := range c.Techniques() {
		if tech.Current().IsEmpty() {
			t.Errorf("%s never published", tech.Key())
		}
	}
}

func TestCache_SharedBinary(t *testing.T) {
	sc := &fakeCompiler{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), sc, nil)

	a := setup.Default()
	b := setup.Default()
	b.ColorFormat = gputypes.TextureFormatRGBA8Unorm
	ta, err := c.Acquire("rock", a)
	if err != nil {
		t.Fatal(err)
	}
	tb, err := c.Acquire("rock", b)
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, ta); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tb); err != nil {
		t.Fatal(err)
	}
	if ta == tb {
		t.Fatal("different color formats share a technique")
	}
	if sc.calls.Load() != 1 {
		t.Errorf("compiler calls = %d, want 1 for identical source", sc.calls.Load())
	}
	if ta.Current().Shader != tb.Current().Shader {
		t.Error("identical source compiled to different binaries")
	}
}

func TestCache_BinaryHashCollision(t *testing.T) {
	sc := &fakeCompiler{}
	c := newTestCache(t, newFakeSource(), sc, nil)

	res := &codegen.Result{Source: "fn b() {}", Hash: 42}
	other := &ShaderBinary{Source: "fn a() {}", Hash: 42, Profile: DefaultProfile}
	c.binaries.Add(binaryKey{hash: 42, profile: DefaultProfile}, other)

	bin, err := c.shader(context.Background(), res)
	if err != nil {
		t.Fatalf("shader() error = %v", err)
	}
	if bin == other || sc.calls.Load() != 1 {
		t.Fatalf("colliding source reused a binary (compiler calls = %d)", sc.calls.Load())
	}

	// The direct fallback fills the binary like the shared path does.
	direct, err := c.compileShader(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []*ShaderBinary{bin, direct} {
		if b.Source != res.Source || b.Hash != 42 || b.Profile != DefaultProfile {
			t.Errorf("binary = source %q, hash %d, profile %q, want %q, 42, %q",
				b.Source, b.Hash, b.Profile, res.Source, DefaultProfile)
		}
	}
}

func TestCache_Close(t *testing.T) {
	pf := &fakeFactory{}
	c := newTestCache(t, newFakeSource(roughnessGraph(t, "rock")), &fakeCompiler{}, pf)

	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, tech); err != nil {
		t.Fatal(err)
	}
	p := tech.Current().Pipeline.(*fakePipeline)

	c.Close()
	c.Close()
	if p.destroyed.Load() != 1 {
		t.Errorf("pipeline destroyed %d times, want 1", p.destroyed.Load())
	}
	if !tech.Current().IsEmpty() {
		t.Error("closed technique still serves a released result")
	}
	if _, err := c.Acquire("rock", setup.Default()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire() after Close = %v, want ErrClosed", err)
	}
}

// ctxBlindCompiler blocks on gate even after its context is canceled.
type ctxBlindCompiler struct {
	started chan struct{}
	gate    chan struct{}
}

func (f *ctxBlindCompiler) Compile(_ context.Context, source, _ string) (*ShaderBinary, error) {
	f.started <- struct{}{}
	<-f.gate
	return &ShaderBinary{Code: []byte(source)}, nil
}

func TestCache_CloseWaitsForBorrowedPool(t *testing.T) {
	pool := parallel.NewWorkerPool(1)
	defer pool.Close()

	sc := &ctxBlindCompiler{started: make(chan struct{}, 1), gate: make(chan struct{})}
	pf := &fakeFactory{}
	c, err := NewCache(newFakeSource(roughnessGraph(t, "rock")), nil, sc, pf, WithPool(pool))
	if err != nil {
		t.Fatal(err)
	}
	tech, err := c.Acquire("rock", setup.Default())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-sc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("compilation did not start")
	}

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a compilation was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(sc.gate)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if !tech.Current().IsEmpty() {
		t.Error("closed technique serves a result published after Close")
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	for i, p := range pf.pipelines {
		if n := p.destroyed.Load(); n != 1 {
			t.Errorf("pipeline %d destroyed %d times, want 1", i, n)
		}
	}
	if !pool.IsRunning() {
		t.Error("Close closed a borrowed pool")
	}
}
