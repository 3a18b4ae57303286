// Package health serves the ops liveness and run status endpoints.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// StatusReporter returns a JSON-encodable view of the current run and
// whether the run has ended.
type StatusReporter interface {
	Status() (done bool, body any)
}

func Status(sr StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			State string `json:"state"`
			Run   any    `json:"run"`
		}
		done, body := sr.Status()
		out := resp{State: "running", Run: body}
		if done {
			out.State = "finished"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
