// Package technique caches compiled material techniques by (graph, setup)
// key and hot swaps them when their graphs change.
//
// Render code acquires a Technique once and reads Current every frame.
// Compilation runs on a worker pool; a finished compilation is published
// with one atomic pointer swap, and the replaced result is retired until
// the renderer reports the frames that could use it complete.
package technique

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/internal/parallel"
	"github.com/gogpu/matgraph/reload"
	"github.com/gogpu/matgraph/setup"
)

// Config holds the tunables of a cache. Zero fields take defaults.
type Config struct {
	// Workers is the number of compile goroutines. Default GOMAXPROCS.
	Workers int

	// BinaryCacheSize bounds the shader binaries kept for reuse across
	// setups that generate identical source. Default 256.
	BinaryCacheSize int

	// Profile is the target profile passed to the shader compiler.
	// Default "spirv".
	Profile string

	// Timeout bounds one compilation. Zero means no timeout.
	Timeout time.Duration
}

// DefaultProfile is the shader compiler target profile used when
// Config.Profile is empty.
const DefaultProfile = "spirv"

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.BinaryCacheSize <= 0 {
		c.BinaryCacheSize = 256
	}
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	return c
}

// Option configures a Cache.
type Option func(*Cache)

// WithConfig sets the cache tunables.
func WithConfig(cfg Config) Option {
	return func(c *Cache) { c.cfg = cfg }
}

// WithRegistry registers every technique with r, so r.NotifyAll
// invalidates them.
func WithRegistry(r *reload.Registry) Option {
	return func(c *Cache) { c.registry = r }
}

// WithEpochSource sets the renderer epoch used to retire replaced results.
func WithEpochSource(e EpochSource) Option {
	return func(c *Cache) { c.epochs = e }
}

// WithObserver routes cache events to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithPool runs compilations on p instead of a pool owned by the cache.
// The cache does not close a borrowed pool.
func WithPool(p *parallel.WorkerPool) Option {
	return func(c *Cache) { c.pool = p }
}

// WithAutoRecompile controls what a reload notification does. When on
// (the default) techniques recompile right away; when off they are only
// marked invalidated and recompile on their next Acquire.
func WithAutoRecompile(on bool) Option {
	return func(c *Cache) { c.manual = !on }
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Techniques int

	Hits   uint64
	Misses uint64

	Compiles  uint64
	Failures  uint64
	Published uint64
	Discarded uint64
	Reclaimed uint64

	BinaryHits   uint64
	BinaryMisses uint64

	// Queued and Running describe the worker pool at the time of the call.
	Queued  int
	Running int
}

type counters struct {
	hits, misses             atomic.Uint64
	compiles, failures       atomic.Uint64
	published, discarded     atomic.Uint64
	reclaimed                atomic.Uint64
	binaryHits, binaryMisses atomic.Uint64
}

// Cache maps (graph, setup) keys onto techniques.
//
// Cache is safe for concurrent use.
type Cache struct {
	src      GraphSource
	gen      Generator
	compiler ShaderCompiler
	factory  PipelineFactory

	cfg      Config
	registry *reload.Registry
	epochs   EpochSource
	observer Observer
	manual   bool

	pool     *parallel.WorkerPool
	ownsPool bool

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// inflight counts submitted compile runs; Close waits for them.
	inflight sync.WaitGroup

	mu         sync.RWMutex
	techniques map[setup.Key]*Technique

	binaries *lru.Cache[binaryKey, *ShaderBinary]
	flight   singleflight.Group

	stats counters
}

type binaryKey struct {
	hash    uint64
	profile string
}

// NewCache creates a cache. gen may be nil for a default codegen engine and
// pf may be nil to publish shader-only techniques. A missing shader
// compiler is fatal.
func NewCache(src GraphSource, gen Generator, sc ShaderCompiler, pf PipelineFactory, opts ...Option) (*Cache, error) {
	if sc == nil {
		return nil, ErrNoShaderCompiler
	}
	if src == nil {
		return nil, ErrNoGraphSource
	}
	if gen == nil {
		gen = codegen.New()
	}

	c := &Cache{
		src:        src,
		gen:        gen,
		compiler:   sc,
		factory:    pf,
		observer:   nopObserver{},
		techniques: make(map[setup.Key]*Technique),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()

	binaries, err := lru.New[binaryKey, *ShaderBinary](c.cfg.BinaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("technique: binary cache: %w", err)
	}
	c.binaries = binaries

	if c.pool == nil {
		c.pool = parallel.NewWorkerPool(c.cfg.Workers)
		c.pool.SetPanicHandler(func(v any) {
			slogger().Error("technique: worker job panicked", "panic", v)
		})
		c.ownsPool = true
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	slogger().Info("technique: cache created",
		"workers", c.pool.Workers(), "profile", c.cfg.Profile, "pipelines", pf != nil)
	return c, nil
}

// Acquire returns the technique for (id, s). Equal keys return the same
// technique; the first acquire schedules its compilation. Acquire never
// waits for a compilation.
func (c *Cache) Acquire(id graph.GraphID, s setup.Setup) (*Technique, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	key := setup.NewKey(id, s)

	// Fast path: read lock
	c.mu.RLock()
	t, ok := c.techniques[key]
	c.mu.RUnlock()
	if ok {
		c.hit(t)
		return t, nil
	}

	// Slow path: write lock with double-check
	c.mu.Lock()
	if t, ok := c.techniques[key]; ok {
		c.mu.Unlock()
		c.hit(t)
		return t, nil
	}
	t = newTechnique(c, key)
	if c.registry != nil {
		t.token = c.registry.Register(c.reloadFunc(t))
	}
	c.techniques[key] = t
	c.mu.Unlock()

	c.stats.misses.Add(1)
	c.observer.ObserveAcquire(false)
	slogger().Debug("technique: acquired", "key", key.String(), "setup", s.String())
	t.schedule()
	return t, nil
}

func (c *Cache) hit(t *Technique) {
	c.stats.hits.Add(1)
	c.observer.ObserveAcquire(true)
	if c.manual && t.Invalidated() && t.State() != StateCompiling {
		t.schedule()
	}
}

func (c *Cache) reloadFunc(t *Technique) func() {
	return func() {
		if c.manual {
			t.invalidated.Store(true)
			return
		}
		t.Invalidate()
	}
}

// Lookup returns the technique for (id, s) without creating it.
func (c *Cache) Lookup(id graph.GraphID, s setup.Setup) (*Technique, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.techniques[setup.NewKey(id, s)]
	return t, ok
}

// Techniques returns every technique in no particular order.
func (c *Cache) Techniques() []*Technique {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Technique, 0, len(c.techniques))
	for _, t := range c.techniques {
		out = append(out, t)
	}
	return out
}

// InvalidateGraph invalidates every technique compiled from id and returns
// how many were invalidated.
func (c *Cache) InvalidateGraph(id graph.GraphID) int {
	n := 0
	for _, t := range c.Techniques() {
		if t.key.Graph == id {
			t.Invalidate()
			n++
		}
	}
	return n
}

// InvalidateAll invalidates every technique.
func (c *Cache) InvalidateAll() int {
	ts := c.Techniques()
	for _, t := range ts {
		t.Invalidate()
	}
	return len(ts)
}

// Wait waits for every technique to go idle. It returns the first context
// error; compile errors stay on their techniques.
func (c *Cache) Wait(ctx context.Context) error {
	for _, t := range c.Techniques() {
		if err := t.Wait(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Reclaim releases the replaced results of every technique retired at or
// before completed.
func (c *Cache) Reclaim(completed uint64) int {
	n := 0
	for _, t := range c.Techniques() {
		n += t.Reclaim(completed)
	}
	if n > 0 {
		c.stats.reclaimed.Add(uint64(n))
		c.observer.ObserveReclaim(n)
		slogger().Debug("technique: reclaimed", "count", n, "epoch", completed)
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.techniques)
	c.mu.RUnlock()
	return Stats{
		Techniques:   n,
		Hits:         c.stats.hits.Load(),
		Misses:       c.stats.misses.Load(),
		Compiles:     c.stats.compiles.Load(),
		Failures:     c.stats.failures.Load(),
		Published:    c.stats.published.Load(),
		Discarded:    c.stats.discarded.Load(),
		Reclaimed:    c.stats.reclaimed.Load(),
		BinaryHits:   c.stats.binaryHits.Load(),
		BinaryMisses: c.stats.binaryMisses.Load(),
		Queued:       c.pool.QueuedWork(),
		Running:      c.pool.Active(),
	}
}

// Close stops accepting work, waits for queued compilations, and releases
// every technique. Call it once the renderer no longer draws with any
// technique. Close is safe to call multiple times.
func (c *Cache) Close() {
	// Under the write lock so no run is counted after inflight.Wait starts.
	c.mu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.cancel()
	c.inflight.Wait()
	if c.ownsPool {
		c.pool.Close()
	}

	c.mu.Lock()
	ts := c.techniques
	c.techniques = make(map[setup.Key]*Technique)
	c.mu.Unlock()
	for _, t := range ts {
		t.release()
	}
	c.binaries.Purge()
	slogger().Info("technique: cache closed", "techniques", len(ts))
}

// submit queues one compile run. The run must call c.inflight.Done when it
// returns; submit reports false, without counting, once the cache is closed.
func (c *Cache) submit(fn func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return false
	}
	c.inflight.Add(1)
	if !c.pool.Submit(fn) {
		c.inflight.Done()
		return false
	}
	return true
}

func (c *Cache) epoch() uint64 {
	if c.epochs == nil {
		return 0
	}
	return c.epochs.Epoch()
}

// build runs one compilation of key. It never touches published state.
func (c *Cache) build(key setup.Key, gen uint64) (*Compiled, error) {
	ctx := c.ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	c.stats.compiles.Add(1)
	compiled, err := c.safeBuild(ctx, key, gen)
	c.observer.ObserveCompile(time.Since(start), err)
	if err != nil {
		c.stats.failures.Add(1)
		slogger().Warn("technique: compile failed", "key", key.String(), "generation", gen, "err", err)
		return nil, err
	}
	slogger().Debug("technique: compiled", "key", key.String(), "generation", gen, "elapsed", time.Since(start))
	return compiled, nil
}

func (c *Cache) buildStages(ctx context.Context, key setup.Key, gen uint64) (*Compiled, error) {
	fail := func(stage CompileStage, err error) error {
		return &CompileError{Key: key, Stage: stage, Err: err}
	}

	g, err := c.src.Graph(ctx, key.Graph)
	if err != nil {
		return nil, fail(StageSource, err)
	}
	res, err := c.gen.Compile(g, key.Setup)
	if err != nil {
		return nil, fail(StageGenerate, err)
	}
	bin, err := c.shader(ctx, res)
	if err != nil {
		return nil, fail(StageShader, err)
	}

	out := &Compiled{
		Key:         key,
		Generation:  gen,
		Revision:    res.Revision,
		Hash:        res.Hash,
		Source:      res.Source,
		Layout:      res.Layout,
		Override:    res.Override,
		RenderState: res.RenderState,
		Shader:      bin,
	}
	if c.factory != nil {
		p, err := c.factory.CreatePipeline(ctx, &PipelineRequest{
			Key:    key,
			Label:  key.String(),
			Shader: bin,
			Result: res,
		})
		if err != nil {
			return nil, fail(StagePipeline, err)
		}
		out.Pipeline = p
	}
	return out, nil
}

// safeBuild turns a panic in a block, compiler or factory into an error so
// the technique keeps its published result.
func (c *Cache) safeBuild(ctx context.Context, key setup.Key, gen uint64) (compiled *Compiled, err error) {
	defer func() {
		if v := recover(); v != nil {
			compiled, err = nil, fmt.Errorf("%w: %s: %v", ErrPanic, key, v)
		}
	}()
	return c.buildStages(ctx, key, gen)
}

// shader returns the binary for res, compiling each distinct source once.
// Concurrent requests for the same source share one compiler call.
func (c *Cache) shader(ctx context.Context, res *codegen.Result) (*ShaderBinary, error) {
	bk := binaryKey{hash: res.Hash, profile: c.cfg.Profile}
	// The hash only selects; the source must match too.
	if bin, ok := c.binaries.Get(bk); ok && bin.Source == res.Source {
		c.stats.binaryHits.Add(1)
		c.observer.ObserveBinary(true)
		return bin, nil
	}

	v, err, _ := c.flight.Do(fmt.Sprintf("%016x/%s", res.Hash, c.cfg.Profile), func() (any, error) {
		if bin, ok := c.binaries.Get(bk); ok && bin.Source == res.Source {
			return bin, nil
		}
		c.stats.binaryMisses.Add(1)
		c.observer.ObserveBinary(false)
		bin, err := c.compileShader(ctx, res)
		if err != nil {
			return nil, err
		}
		c.binaries.Add(bk, bin)
		return bin, nil
	})
	if err != nil {
		return nil, err
	}
	bin := v.(*ShaderBinary)
	if bin.Source != res.Source {
		// Hash collision inside the flight group: compile directly.
		return c.compileShader(ctx, res)
	}
	return bin, nil
}

func (c *Cache) compileShader(ctx context.Context, res *codegen.Result) (*ShaderBinary, error) {
	bin, err := c.compiler.Compile(ctx, res.Source, c.cfg.Profile)
	if err != nil {
		return nil, err
	}
	if bin.Source == "" {
		bin.Source = res.Source
	}
	bin.Hash = res.Hash
	bin.Profile = c.cfg.Profile
	return bin, nil
}
