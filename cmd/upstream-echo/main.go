package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type echoResponse struct {
	ID        string              `json:"id"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     string              `json:"query,omitempty"`
	Headers   map[string][]string `json:"headers"`
	Body      string              `json:"body,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Development upstream. Every call gets a fresh id so replayed responses are easy to spot.
func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := echoResponse{
			ID:        uuid.NewString(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Headers:   r.Header,
			Body:      string(body),
			Timestamp: time.Now().UTC(),
		}

		log.WithFields(log.Fields{
			"id":     resp.ID,
			"method": r.Method,
			"path":   r.URL.Path,
		}).Info("echo")

		status := http.StatusOK
		if r.Method == http.MethodPost {
			status = http.StatusCreated
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})

	log.WithField("addr", *addr).Info("upstream echo starting")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.WithError(err).Fatal("upstream echo stopped")
	}
}
