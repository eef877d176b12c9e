package http

import (
	"net/http"
)

// StoreHealth reports whether the ledger store is accepting work.
type StoreHealth interface {
	Healthy() bool
}

// HandleHealth reports liveness. While the store circuit is open it answers
// 503 so load balancers stop routing allocations here.
func HandleHealth(store StoreHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if store != nil && !store.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
