package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

type multiFlag struct {
	name   string
	usage  string
	value  interface{}
	defVal interface{}
}

// cliOptions mirrors the teacher's flat CLI-options struct, trimmed to
// the handful of knobs this daemon needs: everything else is a
// config.Config tunable loaded from -config, of which only wthread_min,
// wthread_max and wthread_pools can be overridden here.
type cliOptions struct {
	ConfigPath string
	Listen     string
	Backends   string
	Verbose    bool
	Debug      bool

	// Overrides layered onto config.Config after Load, only applied
	// when the flag was actually passed (non-zero).
	WThreadMin   int
	WThreadMax   int
	WThreadPools int
}

func parseFlags() *cliOptions {
	opts := &cliOptions{}

	flags := []multiFlag{
		{name: "c,config", usage: "Path to a TOML config file", value: &opts.ConfigPath},
		{name: "l,listen", usage: "Address to accept client connections on", value: &opts.Listen, defVal: ":8080"},
		{name: "b,backends", usage: "Comma-separated list of backend addresses (host:port)", value: &opts.Backends},
		{name: "wthread-min", usage: "Override pool.wthread_min", value: &opts.WThreadMin},
		{name: "wthread-max", usage: "Override pool.wthread_max", value: &opts.WThreadMax},
		{name: "wthread-pools", usage: "Override pool.wthread_pools", value: &opts.WThreadPools},
		{name: "v,verbose", usage: "Verbose output", value: &opts.Verbose},
		{name: "d,debug", usage: "Debug output", value: &opts.Debug},
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cachefrontd\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		for _, f := range flags {
			names := strings.Split(f.name, ",")
			if len(names) > 1 {
				fmt.Fprintf(os.Stderr, "  -%s, -%s\n", names[0], names[1])
			} else {
				fmt.Fprintf(os.Stderr, "  -%s\n", names[0])
			}
			if f.defVal != nil {
				fmt.Fprintf(os.Stderr, "        %s (Default: %v)\n", f.usage, f.defVal)
			} else {
				fmt.Fprintf(os.Stderr, "        %s\n", f.usage)
			}
		}
	}

	for _, f := range flags {
		names := strings.Split(f.name, ",")
		for _, name := range names {
			switch v := f.value.(type) {
			case *string:
				def, _ := f.defVal.(string)
				flag.StringVar(v, name, def, f.usage)
			case *int:
				def, _ := f.defVal.(int)
				flag.IntVar(v, name, def, f.usage)
			case *bool:
				flag.BoolVar(v, name, false, f.usage)
			}
		}
	}

	flag.Parse()
	return opts
}
