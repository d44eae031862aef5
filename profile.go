/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

var profiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

// registerProfileHandlers exposes net/http/pprof under /pprof. Useful for
// watching room and connection goroutine counts under load.
func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	base := cfg.prefix + "/pprof"

	mux.HandlerFunc(http.MethodGet, base+"/", pprof.Index)

	for _, name := range profiles {
		mux.Handler(http.MethodGet, base+"/"+name, pprof.Handler(name))
	}

	mux.HandlerFunc(http.MethodGet, base+"/cmdline", pprof.Cmdline)
	mux.HandlerFunc(http.MethodGet, base+"/profile", pprof.Profile)
	mux.HandlerFunc(http.MethodGet, base+"/symbol", pprof.Symbol)
	mux.HandlerFunc(http.MethodGet, base+"/trace", pprof.Trace)
}
