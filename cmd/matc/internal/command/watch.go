package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gogpu/matgraph"
	"github.com/gogpu/matgraph/graph"
	"github.com/gogpu/matgraph/technique"
)

// WatchOptions holds the options of the watch command.
type WatchOptions struct {
	setup       setupFlags
	Profile     string
	MetricsAddr string
	Broadcast   bool
}

func NewWatchCommand(cli *CLI) *cobra.Command {
	opts := &WatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [graph-id...]",
		Short: "Compile graphs and recompile them when their documents change",
		Long: "Compile the given graphs (every graph in the directory when none are\n" +
			"given) for one setup, then watch the directory and recompile graphs as\n" +
			"their documents change. Stops on interrupt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]graph.GraphID, len(args))
			for i, a := range args {
				ids[i] = graph.GraphID(a)
			}
			return runWatch(cmd.Context(), cli, opts, ids)
		},
	}
	opts.setup.register(cmd)
	cmd.Flags().StringVar(&opts.Profile, "profile", technique.DefaultProfile, "target profile (spirv, wgsl)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Broadcast, "broadcast", false, "recompile every graph on any change")
	return cmd
}

func runWatch(ctx context.Context, cli *CLI, opts *WatchOptions, ids []graph.GraphID) error {
	s, err := opts.setup.setup()
	if err != nil {
		return err
	}
	matgraph.SetLogger(cli.logger(slog.LevelInfo))

	registry := prometheus.NewRegistry()
	libOpts := []matgraph.Option{
		matgraph.WithDir(cli.Dir),
		matgraph.WithConfig(technique.Config{Profile: opts.Profile}),
		matgraph.WithMetrics(registry),
	}
	if opts.Broadcast {
		libOpts = append(libOpts, matgraph.WithBroadcastReload())
	}
	lib, err := matgraph.New(libOpts...)
	if err != nil {
		return err
	}
	defer lib.Close()

	if len(ids) == 0 {
		if ids, err = lib.IDs(); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if _, err := lib.Acquire(id, s); err != nil {
			return err
		}
	}
	cli.Printf("watching %s: %d graphs, setup %s\n", cli.Dir, len(ids), s)

	if opts.MetricsAddr != "" {
		stop, err := serveMetrics(opts.MetricsAddr, registry)
		if err != nil {
			return err
		}
		defer stop()
		cli.Printf("metrics on http://%s/metrics\n", opts.MetricsAddr)
	}

	err = lib.Watch(ctx)
	st := lib.Stats()
	cli.Printf("compiles %d, failures %d, published %d, discarded %d\n",
		st.Compiles, st.Failures, st.Published, st.Discarded)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(addr string, g prometheus.Gatherer) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
