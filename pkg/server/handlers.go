package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
	"github.com/matzehuels/symgraph/pkg/storage"
)

// EdgeKeyPrefix prefixes the key of a cross-edge stream.
const EdgeKeyPrefix = "edge:"

type triggerRequest struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pipeline == nil {
		writeError(w, errors.New(errors.ErrCodeUnsupported, "pipeline is not configured"))
		return
	}
	var req triggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode trigger request"))
		return
	}
	key, err := pkgkey.New(req.Ecosystem, req.Name, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.cfg.Pipeline.Trigger(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("triggered", "key", key, "status", rec.Status)
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := pkgkey.Parse(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.cfg.Registry.GetStatus(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	key, err := pkgkey.Parse(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.cfg.Registry.StreamStatus(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	streamEvents(w, ch, s.cfg.KeepAlive)
}

func (s *Server) handleUpdatesStream(w http.ResponseWriter, r *http.Request) {
	symbol, err := parseEdgeKey(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.cfg.Registry.StreamCrossEdgeUpdates(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	streamEvents(w, ch, s.cfg.KeepAlive)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if err := validateSymbol(symbol); err != nil {
		writeError(w, err)
		return
	}
	set, err := s.cfg.Registry.EdgesFor(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// handleArtifact serves the stored object at pathFor(key) unchanged.
func (s *Server) handleArtifact(pathFor func(pkgkey.Key) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := pkgkey.Parse(r.URL.Query().Get("key"))
		if err != nil {
			writeError(w, err)
			return
		}
		if s.cfg.Store == nil {
			writeError(w, errors.New(errors.ErrCodeUnsupported, "object store is not configured"))
			return
		}
		data, err := s.cfg.Store.Get(r.Context(), pathFor(key))
		if stderrors.Is(err, storage.ErrNotFound) {
			writeError(w, errors.New(errors.ErrCodeArtifactNotFound, "%s has not been built", key))
			return
		}
		if err != nil {
			writeError(w, errors.Wrap(errors.ErrCodeInternal, err, "read %s", pathFor(key)))
			return
		}
		w.Header().Set("Content-Type", storage.ContentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Registry.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseEdgeKey extracts the symbol id from "edge:<symbolId>".
func parseEdgeKey(raw string) (string, error) {
	symbol, ok := strings.CutPrefix(strings.TrimSpace(raw), EdgeKeyPrefix)
	if !ok {
		return "", errors.New(errors.ErrCodeInvalidKey, "key must be %s<symbol>, got %q", EdgeKeyPrefix, raw)
	}
	return symbol, validateSymbol(symbol)
}

func validateSymbol(symbol string) error {
	if _, _, ok := graph.SplitPackage(graph.PackageOf(symbol)); !ok {
		return errors.New(errors.ErrCodeInvalidKey, "invalid symbol %q", symbol)
	}
	return nil
}

// streamEvents writes every value from ch as one SSE data frame until ch
// closes. Idle streams get a comment frame every keepAlive.
func streamEvents[T any](w http.ResponseWriter, ch <-chan T, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New(errors.ErrCodeUnsupported, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", storage.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: errors.UserMessage(err), Code: errors.GetCode(err)})
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidKey, errors.ErrCodeInvalidPackage,
		errors.ErrCodeInvalidVersion, errors.ErrCodeInvalidPath:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound, errors.ErrCodePackageNotFound, errors.ErrCodeArtifactNotFound,
		errors.ErrCodeEcosystemNotFound:
		return http.StatusNotFound
	case errors.ErrCodeResourceLimit, errors.ErrCodeRateLimited:
		return http.StatusServiceUnavailable
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	}
	if stderrors.Is(err, registry.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
