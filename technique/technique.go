package technique

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/matgraph/codegen"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/reload"
	"github.com/gogpu/matgraph/setup"
)

// Compiled is one successful compilation of one key. It is immutable once
// published.
type Compiled struct {
	Key        setup.Key
	Generation uint64

	// Revision is the graph revision the technique was generated from.
	Revision uint64

	// Hash is the hash of Source.
	Hash   uint64
	Source string

	Layout      codegen.Layout
	Override    graph.RenderStateOverride
	RenderState setup.RenderState

	Shader *ShaderBinary

	// Pipeline is nil when the cache has no pipeline factory.
	Pipeline Pipeline
}

// EmptySource is the flat-color module served before a technique has
// ever compiled.
const EmptySource = `struct Frame {
    view_proj: mat4x4<f32>,
    model: mat4x4<f32>,
};

@group(0) @binding(0) var<uniform> frame: Frame;

@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return frame.view_proj * frame.model * vec4<f32>(position, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 1.0, 1.0);
}
`

// Empty is the sentinel every technique serves until its first successful
// compilation. Renderers draw it with their own fallback pipeline built
// from EmptySource.
var Empty = &Compiled{Source: EmptySource}

// IsEmpty reports whether c is the Empty sentinel.
func (c *Compiled) IsEmpty() bool { return c == Empty }

// State is the compilation state of a technique.
type State uint32

const (
	// StateUninitialized: nothing has been published yet and nothing runs.
	StateUninitialized State = iota
	// StateCompiling: a compilation is in flight. Current still serves the
	// previous result.
	StateCompiling
	// StatePublished: a result is published and nothing runs.
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCompiling:
		return "compiling"
	case StatePublished:
		return "published"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

type expired struct {
	c     *Compiled
	epoch uint64
}

// Technique is the long-lived slot render code holds for one key. Current
// is a single atomic load; everything else happens on the writer side.
//
// Technique is safe for concurrent use.
type Technique struct {
	cache *Cache
	key   setup.Key

	current atomic.Pointer[Compiled]

	// requested is the newest generation asked for. Only a result of that
	// generation may publish.
	requested   atomic.Uint64
	invalidated atomic.Bool
	state       atomic.Uint32

	token *reload.Token

	// mu guards the fields below. Readers of Current never take it.
	mu        sync.Mutex
	running   bool
	idle      chan struct{}
	published uint64
	lastErr   error
	expired   []expired
}

func newTechnique(c *Cache, key setup.Key) *Technique {
	t := &Technique{cache: c, key: key, idle: make(chan struct{})}
	close(t.idle)
	t.current.Store(Empty)
	return t
}

// Key returns the key the technique was acquired with.
func (t *Technique) Key() setup.Key { return t.key }

// Current returns the published result, or Empty. It never blocks and
// never returns nil.
func (t *Technique) Current() *Compiled { return t.current.Load() }

// State returns the compilation state.
func (t *Technique) State() State { return State(t.state.Load()) }

// Invalidated reports whether a reload was signalled that no compilation
// has consumed yet.
func (t *Technique) Invalidated() bool { return t.invalidated.Load() }

// Generation returns the newest requested generation.
func (t *Technique) Generation() uint64 { return t.requested.Load() }

// LastError returns the error of the most recent compilation, or nil if it
// succeeded.
func (t *Technique) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Invalidate marks the technique invalidated and schedules a recompile.
// The published result keeps serving until the recompile succeeds.
func (t *Technique) Invalidate() {
	t.invalidated.Store(true)
	t.schedule()
}

// Wait blocks until no compilation is in flight and returns the error of
// the last one.
func (t *Technique) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return t.LastError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Expired returns the number of replaced results not yet reclaimed.
func (t *Technique) Expired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expired)
}

// Reclaim releases replaced results retired at or before completed.
// It returns the number released.
func (t *Technique) Reclaim(completed uint64) int {
	t.mu.Lock()
	var release []*Compiled
	keep := t.expired[:0]
	for _, e := range t.expired {
		if e.epoch <= completed {
			release = append(release, e.c)
			continue
		}
		keep = append(keep, e)
	}
	clear(t.expired[len(keep):])
	t.expired = keep
	t.mu.Unlock()

	for _, c := range release {
		destroy(c)
	}
	return len(release)
}

func destroy(c *Compiled) {
	if c != nil && c != Empty && c.Pipeline != nil {
		c.Pipeline.Destroy()
	}
}

// schedule requests a new generation. At most one compilation runs per
// technique; a running one picks the new generation up when it finishes.
func (t *Technique) schedule() {
	gen := t.requested.Add(1)

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		slogger().Debug("technique: recompile coalesced", "key", t.key.String(), "generation", gen)
		return
	}
	t.running = true
	t.idle = make(chan struct{})
	t.state.Store(uint32(StateCompiling))
	t.mu.Unlock()

	if !t.cache.submit(t.run) {
		t.mu.Lock()
		t.lastErr = ErrClosed
		t.finishLocked()
		t.mu.Unlock()
	}
}

// run compiles until the newest requested generation has been attempted.
func (t *Technique) run() {
	defer t.cache.inflight.Done()
	for {
		gen := t.requested.Load()
		t.invalidated.Store(false)

		c, err := t.cache.build(t.key, gen)

		t.mu.Lock()
		switch {
		case err != nil:
			t.lastErr = err
		default:
			t.lastErr = nil
			t.publishLocked(c)
		}
		if t.requested.Load() == gen || t.cache.closed.Load() {
			t.finishLocked()
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

func (t *Technique) finishLocked() {
	t.running = false
	if t.current.Load() == Empty {
		t.state.Store(uint32(StateUninitialized))
	} else {
		t.state.Store(uint32(StatePublished))
	}
	close(t.idle)
}

// publish installs c unless a newer generation was requested or already
// published. It reports whether c was installed.
func (t *Technique) publish(c *Compiled) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishLocked(c)
}

func (t *Technique) publishLocked(c *Compiled) bool {
	if c.Key != t.key {
		panic(fmt.Sprintf("technique: publishing %s into %s", c.Key, t.key))
	}
	if t.cache.closed.Load() {
		slogger().Debug("technique: result discarded after close",
			"key", t.key.String(), "generation", c.Generation)
		t.cache.observer.ObservePublish(true)
		t.cache.stats.discarded.Add(1)
		destroy(c)
		return false
	}
	if c.Generation < t.requested.Load() || c.Generation <= t.published {
		slogger().Debug("technique: stale result discarded",
			"key", t.key.String(), "generation", c.Generation, "published", t.published)
		t.cache.observer.ObservePublish(true)
		t.cache.stats.discarded.Add(1)
		destroy(c)
		return false
	}

	prev := t.current.Swap(c)
	t.published = c.Generation
	if prev != Empty {
		t.expired = append(t.expired, expired{c: prev, epoch: t.cache.epoch()})
	}
	t.cache.observer.ObservePublish(false)
	t.cache.stats.published.Add(1)
	slogger().Debug("technique: published",
		"key", t.key.String(), "generation", c.Generation, "hash", fmt.Sprintf("%016x", c.Hash))
	return true
}

// release drops the reload registration and every result the technique
// holds. Used when the cache closes.
func (t *Technique) release() {
	if t.token != nil {
		t.token.Release()
	}
	t.mu.Lock()
	list := t.expired
	t.expired = nil
	t.mu.Unlock()
	for _, e := range list {
		destroy(e.c)
	}
	destroy(t.current.Swap(Empty))
}
