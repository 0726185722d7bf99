// Package admin exposes the remembered-URL index over HTTP.
//
//	GET  /urls?pattern=/foo/*&pattern=/bar/*   list matching URLs with stats
//	POST /urls/purge                           purge matching URLs
//
// Purge reads patterns from the query string or from a JSON body of the form
// {"patterns": ["/foo/*"]}. Without patterns every remembered URL matches.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/page-cache/pkg/remember"
)

// List is the response body of both endpoints.
type List struct {
	URLs  []remember.Match `json:"urls"`
	Count int              `json:"count"`
}

type purgeRequest struct {
	Patterns []string `json:"patterns"`
}

type handler struct {
	index  *remember.Index
	logger zerolog.Logger
}

// Router returns a chi router serving the admin endpoints for index.
func Router(index *remember.Index, logger zerolog.Logger) chi.Router {
	if index == nil {
		panic("admin: index cannot be nil")
	}
	h := &handler{index: index, logger: logger}

	r := chi.NewRouter()
	r.Get("/urls", h.list)
	r.Post("/urls/purge", h.purge)
	return r
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	patterns := r.URL.Query()["pattern"]
	h.write(w, collect(h.index.FindMatching(r.Context(), patterns)))
}

func (h *handler) purge(w http.ResponseWriter, r *http.Request) {
	patterns := r.URL.Query()["pattern"]

	var body purgeRequest
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body)
	switch {
	case err == nil:
		patterns = append(patterns, body.Patterns...)
	case errors.Is(err, io.EOF):
	default:
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	list := collect(h.index.FindAndPurge(r.Context(), patterns))
	h.logger.Info().Strs("patterns", patterns).Int("purged", list.Count).Msg("Purged remembered URLs")
	h.write(w, list)
}

func (h *handler) write(w http.ResponseWriter, list List) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write admin response")
	}
}

func collect(matches iter.Seq[remember.Match]) List {
	list := List{URLs: []remember.Match{}}
	for m := range matches {
		list.URLs = append(list.URLs, m)
	}
	list.Count = len(list.URLs)
	return list
}
