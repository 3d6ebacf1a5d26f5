package matgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/matgraph/backend"
	"github.com/gogpu/matgraph/backend/native"
	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/connectivity"
	"github.com/gogpu/matgraph/depot"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/metrics"
	"github.com/gogpu/matgraph/reload"
	"github.com/gogpu/matgraph/setup"
	"github.com/gogpu/matgraph/technique"
)

var (
	// ErrNoDirectory is returned by Watch when the library does not read
	// graphs from a directory.
	ErrNoDirectory = errors.New("matgraph: no directory depot to watch")

	// ErrWatching is returned by Watch while another Watch is running.
	ErrWatching = errors.New("matgraph: already watching")

	// ErrNoListing is returned by IDs for custom graph sources.
	ErrNoListing = errors.New("matgraph: graph source cannot list graphs")

	// ErrNotCompiled is returned by Compile when a technique finished
	// without ever producing a result.
	ErrNotCompiled = errors.New("matgraph: technique not compiled")
)

// Library owns a graph depot, a technique cache and everything the cache
// compiles with.
//
// Library is safe for concurrent use.
type Library struct {
	src    technique.GraphSource
	dir    *depot.Dir
	memory *depot.Memory

	engine    *codegen.Engine
	registry  *reload.Registry
	cache     *technique.Cache
	pipelines *native.PipelineFactory
	observer  *metrics.Observer

	broadcast bool

	mu      sync.Mutex
	watcher *reload.Watcher
	closed  bool
}

// New creates a library. Without WithDir or WithSource the library serves
// graphs from memory; see Put.
func New(opts ...Option) (*Library, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	l := &Library{
		engine:    codegen.New(o.codegen...),
		registry:  reload.NewRegistry(),
		broadcast: o.broadcast,
	}

	switch {
	case o.root != "":
		dir, err := depot.NewDir(o.root)
		if err != nil {
			return nil, err
		}
		dir.SetLogger(Logger())
		l.dir, l.src = dir, dir
	case o.source != nil:
		l.src = o.source
	default:
		l.memory = depot.NewMemory(o.graphs...)
		l.src = l.memory
	}

	var err error
	compiler := o.compiler
	switch {
	case compiler != nil:
	case len(o.compilerOpts) > 0:
		compiler = native.NewSPIRVCompiler(o.compilerOpts...)
	default:
		profile := o.config.Profile
		if profile == "" {
			profile = technique.DefaultProfile
		}
		if compiler, err = backend.Lookup(profile); err != nil {
			return nil, err
		}
	}

	switch {
	case o.device != nil:
		l.pipelines, err = native.NewPipelineFactory(o.device)
	case o.provider != nil:
		l.pipelines, err = native.NewPipelineFactoryFromProvider(o.provider)
	}
	if err != nil {
		return nil, err
	}

	cacheOpts := []technique.Option{
		technique.WithConfig(o.config),
		technique.WithRegistry(l.registry),
		technique.WithAutoRecompile(!o.manual),
	}
	if o.epochs != nil {
		cacheOpts = append(cacheOpts, technique.WithEpochSource(o.epochs))
	}
	if o.metrics != nil {
		l.observer = metrics.New()
		l.observer.MustRegister(o.metrics)
		cacheOpts = append(cacheOpts, technique.WithObserver(l.observer))
	}

	var pf technique.PipelineFactory
	if l.pipelines != nil {
		pf = l.pipelines
	}
	l.cache, err = technique.NewCache(l.src, l.engine, compiler, pf, cacheOpts...)
	if err != nil {
		if l.pipelines != nil {
			l.pipelines.Close()
		}
		return nil, err
	}

	Logger().Info("matgraph: library created",
		"dir", o.root, "pipelines", l.pipelines != nil, "metrics", l.observer != nil)
	return l, nil
}

// Put adds or replaces a graph of an in-memory library and invalidates
// the techniques built from it. It reports false for directory and custom
// sources.
func (l *Library) Put(g *graph.Graph) bool {
	if l.memory == nil {
		return false
	}
	l.memory.Put(g)
	l.cache.InvalidateGraph(g.ID())
	return true
}

// Graph returns the graph with the given id from the depot.
func (l *Library) Graph(ctx context.Context, id graph.GraphID) (*graph.Graph, error) {
	return l.src.Graph(ctx, id)
}

// IDs lists the graphs of a directory or in-memory depot.
func (l *Library) IDs() ([]graph.GraphID, error) {
	switch {
	case l.dir != nil:
		return l.dir.IDs()
	case l.memory != nil:
		return l.memory.IDs(), nil
	}
	return nil, ErrNoListing
}

// Acquire returns the technique for (id, s). See technique.Cache.Acquire.
func (l *Library) Acquire(id graph.GraphID, s setup.Setup) (*technique.Technique, error) {
	return l.cache.Acquire(id, s)
}

// Compile acquires the technique for (id, s) and waits for its compilation.
// It returns the published result, which predates the last compilation when
// that one failed, or the compile error when nothing was ever published.
func (l *Library) Compile(ctx context.Context, id graph.GraphID, s setup.Setup) (*technique.Compiled, error) {
	tech, err := l.cache.Acquire(id, s)
	if err != nil {
		return nil, err
	}
	if err := tech.Wait(ctx); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c := tech.Current()
	if c.IsEmpty() {
		if err := tech.LastError(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotCompiled, tech.Key())
	}
	return c, nil
}

// Generate runs code generation for (id, s) without caching or compiling
// the result.
func (l *Library) Generate(ctx context.Context, id graph.GraphID, s setup.Setup) (*codegen.Result, error) {
	g, err := l.src.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.engine.Compile(g, s)
}

// Analysis is the connectivity of one graph.
type Analysis struct {
	Graph *graph.Graph

	// Reach holds the reachability list of every output that analyzed
	// cleanly, Errors the structural error of every other output.
	Reach  map[graph.BlockID]*connectivity.Reachability
	Errors map[graph.BlockID]error

	// Unreachable lists the blocks that feed no output.
	Unreachable []graph.BlockID
}

// Analyze computes the connectivity of every designated output of id.
func (l *Library) Analyze(ctx context.Context, id graph.GraphID) (*Analysis, error) {
	g, err := l.src.Graph(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := g.Snapshot()
	reach, errs := connectivity.Analyze(snap)
	return &Analysis{
		Graph:       snap,
		Reach:       reach,
		Errors:      errs,
		Unreachable: connectivity.Unreachable(snap),
	}, nil
}

// Reload invalidates the techniques built from the given graphs, or every
// technique through the reload registry when no id is given. It returns
// the number of techniques invalidated or listeners notified.
func (l *Library) Reload(ids ...graph.GraphID) int {
	if len(ids) == 0 {
		return l.registry.NotifyAll()
	}
	n := 0
	for _, id := range ids {
		n += l.cache.InvalidateGraph(id)
	}
	return n
}

// Watch reloads graphs whose documents change until ctx is done or the
// library is closed. It requires a directory depot.
func (l *Library) Watch(ctx context.Context) error {
	if l.dir == nil {
		return ErrNoDirectory
	}

	var reg *reload.Registry
	if l.broadcast {
		reg = l.registry
	}
	w, err := reload.NewWatcher(reg,
		reload.WithExtensions(depot.Extensions...),
		reload.WithChangeHandler(l.changed),
	)
	if err != nil {
		return err
	}

	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		_ = w.Close()
		return technique.ErrClosed
	case l.watcher != nil:
		l.mu.Unlock()
		_ = w.Close()
		return ErrWatching
	}
	l.watcher = w
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.watcher == w {
			l.watcher = nil
		}
		l.mu.Unlock()
		_ = w.Close()
	}()

	if err := w.Add(l.dir.Root()); err != nil {
		return err
	}
	return w.Run(ctx)
}

// changed drops the cached documents of paths and, unless every technique
// is reloaded by broadcast, invalidates the techniques built from them.
func (l *Library) changed(paths []string) {
	ids := l.dir.Forget(paths...)
	if l.broadcast {
		return
	}
	n := l.Reload(ids...)
	Logger().Info("matgraph: documents changed", "graphs", len(ids), "techniques", n)
}

// Registry returns the reload registry every technique listens on.
func (l *Library) Registry() *reload.Registry { return l.registry }

// Cache returns the technique cache.
func (l *Library) Cache() *technique.Cache { return l.cache }

// Stats returns a snapshot of the cache counters.
func (l *Library) Stats() technique.Stats { return l.cache.Stats() }

// Reclaim releases replaced results retired at or before the completed
// renderer epoch.
func (l *Library) Reclaim(completed uint64) int { return l.cache.Reclaim(completed) }

// Close stops watching, closes the cache and releases pipeline resources.
// Close is safe to call multiple times; only the first call reports the
// watcher's close error.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	w := l.watcher
	l.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	l.cache.Close()
	if l.pipelines != nil {
		l.pipelines.Close()
	}
	Logger().Info("matgraph: library closed")
	return err
}
