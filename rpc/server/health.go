package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/store"
)

// healthServer exposes the node's health and metrics over plain HTTP,
// separate from the RPC listener so load balancers and scrapers never mix
// with record traffic.
type healthServer struct {
	store   store.IRecordStore
	manager *cluster.Manager
	srv     *http.Server
}

func newHealthServer(endpoint string, st store.IRecordStore, mgr *cluster.Manager) *healthServer {
	h := &healthServer{store: st, manager: mgr}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	h.srv = &http.Server{Addr: endpoint, Handler: mux}
	return h
}

// Start launches the HTTP listener in the background.
func (h *healthServer) Start() {
	go func() {
		Logger.Infof("Health endpoint listening on %s", h.srv.Addr)
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("Health endpoint failed: %v", err)
		}
	}()
}

// Close shuts the HTTP listener down gracefully.
func (h *healthServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutOrDefault(0))
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		Logger.Warnf("Health endpoint shutdown: %v", err)
	}
}

// handleHealthz reports 200 only when the local store is healthy and this
// node participates in the cluster as an Active member.
func (h *healthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Healthy(); err != nil {
		http.Error(w, fmt.Sprintf("store unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}
	if state := h.manager.LocalNode().State; state != cluster.StateActive {
		http.Error(w, fmt.Sprintf("node state: %s", state), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
