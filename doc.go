// Package matgraph compiles material graphs into cached, hot-reloadable
// rendering techniques.
//
// # Overview
//
// A material graph is a set of typed blocks (parameters, math, texture
// samples, output sinks) wired socket to socket. matgraph analyzes which
// blocks drive each output, generates a WGSL module per compilation setup,
// compiles it to SPIR-V with naga and builds a wgpu render pipeline for it.
// Results are cached per (graph, setup) key and swapped atomically when a
// graph changes, so render code never waits for a compilation.
//
// # Quick Start
//
//	lib, err := matgraph.New(matgraph.WithDir("materials"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close()
//
//	tech, err := lib.Acquire("rock", setup.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Every frame:
//	compiled := tech.Current()
//	if compiled.IsEmpty() {
//	    // draw with the fallback pipeline
//	}
//
// # Architecture
//
// The library is organized into:
//   - graph: blocks, sockets, connections and the material graph itself
//   - connectivity: reachability lists, cycle and dangling socket detection
//   - codegen: WGSL generation and resource layout
//   - setup: compilation setups and cache keys
//   - technique: the technique cache and hot swap
//   - reload: reload broadcast and file watching
//   - depot: graph sources (memory, YAML documents on disk)
//   - backend/native: naga shader compiler and wgpu pipeline factory
//   - metrics: Prometheus collectors for the cache
//
// # Hot Reload
//
// With a directory depot, Watch reparses changed documents and recompiles
// the techniques built from them. The previous result keeps serving until
// the new one is published; replaced results are released by Reclaim once
// the renderer reports the frames that used them complete.
//
// # Logging
//
// matgraph is silent by default. See SetLogger.
package matgraph
