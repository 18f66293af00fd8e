package api

import (
	"net/http"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("readiness check failed")
		respondError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Reset(r.Context(), a.Seeds()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().Msg("mock state reset")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoutes(root chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var routes []Route
		err := chi.Walk(root, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, Route{Method: method, Pattern: route})
			return nil
		})
		if err != nil {
			a.fail(w, r, errors.Wrap(err, "walk routes"))
			return
		}

		sort.Slice(routes, func(i, j int) bool {
			if routes[i].Pattern != routes[j].Pattern {
				return routes[i].Pattern < routes[j].Pattern
			}
			return routes[i].Method < routes[j].Method
		})
		respondJSON(w, http.StatusOK, routes)
	}
}
