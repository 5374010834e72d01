package main

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/slicingmelon/cachefrontd/internal/backend"
	"github.com/slicingmelon/cachefrontd/internal/config"
	"github.com/slicingmelon/cachefrontd/internal/errstats"
	"github.com/slicingmelon/cachefrontd/internal/logx"
	"github.com/slicingmelon/cachefrontd/internal/pool"
	"github.com/slicingmelon/cachefrontd/internal/session"
	"github.com/slicingmelon/cachefrontd/internal/vary"
)

func main() {
	opts := parseFlags()

	if opts.Verbose {
		logx.EnableVerbose()
	}
	if opts.Debug {
		logx.EnableDebug()
	}

	logx.Info().Msgf("cachefrontd %s starting", config.Version)

	cfg := config.NewConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			logx.Error().Msgf("config load failed: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if opts.WThreadMin != 0 {
		cfg.Pool.WThreadMin = opts.WThreadMin
	}
	if opts.WThreadMax != 0 {
		cfg.Pool.WThreadMax = opts.WThreadMax
	}
	if opts.WThreadPools != 0 {
		cfg.Pool.WThreadPools = opts.WThreadPools
	}

	ledger := errstats.NewLedger()
	defer ledger.Close()

	backends := buildBackends(opts.Backends, cfg.Backend, ledger)
	director := backend.NewRoundRobinDirector(backends)

	sp := session.NewSubPool(
		stubDecoder,
		nil, // no object store wired in; every cacheable request misses today
		director,
		vary.Options{GzipSupport: cfg.Vary.HTTPGzipSupport},
		cfg.Backend.PipeTimeout(),
		4*cfg.Pool.WThreadMax,
	)
	defer sp.Stop()

	params := pool.Params{
		Min:          cfg.Pool.WThreadMin,
		Max:          cfg.Pool.WThreadMax,
		Pools:        cfg.Pool.WThreadPools,
		AddThreshold: cfg.Pool.WThreadAddThreshold,
		AddDelay:     cfg.Pool.AddDelay(),
		FailDelay:    cfg.Pool.FailDelay(),
		PurgeDelay:   cfg.Pool.PurgeDelay(),
		Timeout:      cfg.Pool.Timeout(),
		QueueMax:     cfg.Pool.QueueMax,
		StackSize:    cfg.Pool.WThreadStackSize,
	}

	sup := pool.NewSupervisor(params, sp)
	go sup.Run()
	defer sup.Stop()

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		logx.Error().Msgf("listen on %s failed: %v", opts.Listen, err)
		os.Exit(1)
	}
	logx.Success().Msgf("listening on %s with %d backend(s)", opts.Listen, len(backends))

	attachListener(sup, ln)

	select {}
}

// attachListener hands ln to the first reconciled pool and keeps
// retrying until the supervisor has actually grown one, since
// reconcile() runs on its own goroutine and may not have created a
// pool yet on the very first tick.
func attachListener(sup *pool.Supervisor, ln net.Listener) {
	for {
		pools := sup.Pools()
		if len(pools) > 0 {
			pools[0].AttachListener(ln)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func buildBackends(raw string, cfg config.BackendConfig, ledger *errstats.Ledger) []*backend.Backend {
	addrs := splitAndTrim(raw)
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:80"}
	}

	dialerOpts := backend.DefaultDialerOptions()
	dialerOpts.ProxyURL = cfg.ProxyURL

	backends := make([]*backend.Backend, 0, len(addrs))
	for _, addr := range addrs {
		dial := backend.NewAddrDialFunc(addr, dialerOpts)
		name := addr
		wrapped := func() (net.Conn, error) {
			c, err := dial()
			if err != nil {
				ledger.Record(name, errstats.CategoryConnection, err)
			}
			return c, err
		}
		backends = append(backends, backend.New(name, wrapped))
	}
	return backends
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stubDecoder is a placeholder session.Decoder: real HTTP request
// parsing is an external collaborator (SPEC_FULL.md §1's scope
// boundary). It treats every connection as a non-cacheable pass-through
// so the demo binary has something runnable to pipe through backends.
func stubDecoder(conn net.Conn) (*session.Request, error) {
	return &session.Request{Host: "", Cacheable: false}, nil
}
