package main

import (
	"net/http"

	"github.com/opsgate/opsgate/internal/transport/wsbridge"
)

// attachWebsocket mounts the /ws/events endpoint alongside the REST API
// router, matching the external /ws/events surface described for this
// system.
func attachWebsocket(api http.Handler, hub *wsbridge.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.Handle("/ws/events", hub)
	return mux
}

func serveHTTP(addr string, handler http.Handler) error {
	return http.ListenAndServe(addr, handler)
}
