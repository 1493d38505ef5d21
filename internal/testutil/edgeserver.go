package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// EdgeServer serves a FakeEdge over the edge HTTP API.
type EdgeServer struct {
	*httptest.Server
	Edge  *FakeEdge
	Token string

	mu         sync.Mutex
	failNext   []int
	requests   int
	files      map[string][]byte
	snapshots  []ze.Snapshot
	buildStats [][]byte
}

// NewEdgeServer starts a server that requires "Bearer <token>". It is
// closed when the test completes.
func NewEdgeServer(t *testing.T, edge *FakeEdge, token string) *EdgeServer {
	t.Helper()
	s := &EdgeServer{
		Edge:  edge,
		Token: token,
		files: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /resolve/{uid}/{version}", s.handleResolve)
	mux.HandleFunc("GET /application/{uid}/hash-set", s.handleHashSet)
	mux.HandleFunc("GET /application/{uid}/build-id", s.handleBuildID)
	mux.HandleFunc("GET /application/{uid}/config", s.handleConfig)
	mux.HandleFunc("POST /upload/file/{hash}", s.handleFile)
	mux.HandleFunc("POST /upload/build-stats", s.handleBuildStats)
	mux.HandleFunc("POST /upload/snapshot", s.handleSnapshot)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next len(statuses) requests fail with the given
// statuses, in order.
func (s *EdgeServer) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, statuses...)
}

// Requests returns how many requests reached the server.
func (s *EdgeServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// File returns the uploaded content for hash.
func (s *EdgeServer) File(hash string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[hash]
	return data, ok
}

// Files returns how many distinct files were uploaded.
func (s *EdgeServer) Files() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Snapshots returns every snapshot published so far.
func (s *EdgeServer) Snapshots() []ze.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ze.Snapshot(nil), s.snapshots...)
}

// BuildStats returns every build-stats payload received.
func (s *EdgeServer) BuildStats() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.buildStats...)
}

func (s *EdgeServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		var status int
		if len(s.failNext) > 0 {
			status = s.failNext[0]
			s.failNext = s.failNext[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *EdgeServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	dep, err := s.Edge.Resolve(r.Context(), r.PathValue("uid"), r.PathValue("version"), r.URL.Query().Get("build_target"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeValue(w, dep)
}

func (s *EdgeServer) handleHashSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.Edge.FetchHashSet(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeValue(w, map[string][]string{"hash_set": set.Sorted()})
}

func (s *EdgeServer) handleBuildID(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Edge.FetchBuildIDs(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ids)
}

func (s *EdgeServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Edge.FetchApplicationConfig(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeValue(w, cfg)
}

func (s *EdgeServer) handleFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash := r.PathValue("hash")
	if SHA256Hex(data) != hash {
		http.Error(w, "hash mismatch", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.files[hash] = data
	s.mu.Unlock()
	if uid := r.URL.Query().Get("application_uid"); uid != "" {
		s.Edge.AddHashes(uid, hash)
	}
	writeValue(w, map[string]string{"hash": hash})
}

func (s *EdgeServer) handleBuildStats(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.buildStats = append(s.buildStats, data)
	s.mu.Unlock()
	writeValue(w, map[string]bool{"ok": true})
}

func (s *EdgeServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap ze.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
	writeValue(w, map[string]string{
		"version_url": "https://" + strings.ReplaceAll(snap.SnapshotID, "_", "-") + ".edge.test",
	})
}

func writeValue(w http.ResponseWriter, v any) {
	writeJSON(w, map[string]any{"value": v})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var terr *ze.TransportError
	if errors.As(err, &terr) {
		http.Error(w, err.Error(), terr.Status)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
