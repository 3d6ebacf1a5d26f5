package depot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/matgraph/graph"
)

// Extensions are the file extensions Dir reads graph documents from.
var Extensions = []string{".yaml", ".yml"}

type entry struct {
	path    string
	modTime time.Time
	size    int64
	g       *graph.Graph
}

// Dir loads graph documents named <id>.yaml (or .yml) from a directory.
// Parsed graphs are cached until the file's size or modification time
// changes, or until Forget drops them.
//
// Dir is safe for concurrent use.
type Dir struct {
	root string

	mu      sync.Mutex
	entries map[graph.GraphID]*entry
	log     *slog.Logger
}

// NewDir creates a store reading from root.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("depot: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("depot: %s is not a directory", root)
	}
	return &Dir{root: root, entries: make(map[graph.GraphID]*entry)}, nil
}

// SetLogger sets the logger for load diagnostics. Nil disables logging.
func (d *Dir) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	d.log = l
	d.mu.Unlock()
}

// Root returns the directory the store reads from.
func (d *Dir) Root() string { return d.root }

// Graph returns the graph with the given id, parsing its document if it is
// not cached or changed on disk.
func (d *Dir) Graph(ctx context.Context, id graph.GraphID) (*graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, info, err := d.locate(id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok && e.path == path && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("depot: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if g.ID() != id {
		return nil, fmt.Errorf("%w: %s declares id %q, want %q", ErrInvalidDocument, path, g.ID(), id)
	}
	d.entries[id] = &entry{path: path, modTime: info.ModTime(), size: info.Size(), g: g}
	if d.log != nil {
		d.log.Debug("depot: loaded graph", "id", id, "path", path, "blocks", len(g.Blocks()))
	}
	return g, nil
}

func (d *Dir) locate(id graph.GraphID) (string, fs.FileInfo, error) {
	if id == "" || strings.ContainsAny(string(id), `/\`) {
		return "", nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	for _, ext := range Extensions {
		path := filepath.Join(d.root, string(id)+ext)
		info, err := os.Stat(path)
		if err == nil {
			return path, info, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("depot: %w", err)
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Forget drops the cached graphs loaded from paths and returns their ids.
// Paths outside the store or with other extensions are ignored.
func (d *Dir) Forget(paths ...string) []graph.GraphID {
	var ids []graph.GraphID
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range paths {
		id, ok := d.idFor(p)
		if !ok {
			continue
		}
		delete(d.entries, id)
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Dir) idFor(path string) (graph.GraphID, bool) {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(d.root) {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(Extensions, ext) {
		return "", false
	}
	return graph.GraphID(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))), true
}

// IDs lists the graph ids with a document in the directory, sorted.
func (d *Dir) IDs() ([]graph.GraphID, error) {
	des, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("depot: %w", err)
	}
	var ids []graph.GraphID
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		if id, ok := d.idFor(filepath.Join(d.root, de.Name())); ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
