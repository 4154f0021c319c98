package pprofutil

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes /metrics and /debug/pprof/ on a loopback address.
type Server struct {
	Addr string
	srv  *http.Server
}

// Start binds addr and serves in the background. An empty addr disables the
// endpoint. Non-loopback binds are refused unless allowPublic is set.
func Start(addr string, allowPublic bool, log zerolog.Logger, cs ...prometheus.Collector) (*Server, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	if !allowPublic && !isLoopbackBind(addr) {
		return nil, fmt.Errorf("metrics addr must be loopback unless public binds are allowed: %s", addr)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen failed: %w", err)
	}
	actual := ln.Addr().String()
	log.Info().Str("addr", actual).Msg("metrics and pprof enabled")
	s := &Server{
		Addr: actual,
		srv: &http.Server{
			Addr:              actual,
			Handler:           mux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.srv.Close()
}

func mux(reg *prometheus.Registry) *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return m
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
