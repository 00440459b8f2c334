// Package httpapi serves archived event logs over HTTP+JSON and evaluates the
// storage assertions against them, so harnesses outside Go can check what a
// recorded run stored or disposed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/diag"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/fixture"
	"github.com/jacktea/blobcheck/pkg/match"
	"github.com/jacktea/blobcheck/pkg/server/middleware"
	"github.com/jacktea/blobcheck/pkg/storetest"
	"github.com/jacktea/blobcheck/pkg/xerrors"
)

// Assertion names accepted by the check endpoint.
const (
	AssertStored          = "stored"
	AssertStoredVersion   = "stored-version"
	AssertDisposed        = "disposed"
	AssertDisposedVersion = "disposed-version"
)

// Server exposes an Archive over a small JSON API.
type Server struct {
	Archive  *eventlog.Archive
	Fixtures *fixture.Resolver
	Logger   *zap.Logger
	Opts     Options
}

// Options configure auth.
type Options struct {
	APIKey string
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router().ServeHTTP(w, r)
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /snapshots", s.listSnapshots)
	mux.HandleFunc("GET /snapshots/{name}", s.getSnapshot)
	mux.HandleFunc("DELETE /snapshots/{name}", s.deleteSnapshot)
	mux.HandleFunc("POST /snapshots/{name}/check", s.check)
	return middleware.Wrap(mux,
		middleware.RequestLog(s.Logger),
		middleware.APIKeyAuth(s.Opts.APIKey),
	)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	names, err := s.Archive.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Archive.Snapshot(r.Context(), r.PathValue("name"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.Archive.Delete(r.Context(), r.PathValue("name")); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type versionPayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Fit    string `json:"fit"`
	Format string `json:"format"`
}

func (v versionPayload) descriptor() blob.VersionDescriptor {
	return blob.VersionDescriptor{Width: v.Width, Height: v.Height, Fit: blob.Fit(v.Fit), Format: v.Format}
}

// CheckRequest selects one assertion. File names a fixture for the stored
// assertions, Key a base key for the disposed ones. An empty Owner checks
// every storage instance.
type CheckRequest struct {
	Assertion string         `json:"assertion"`
	Owner     string         `json:"owner,omitempty"`
	File      string         `json:"file,omitempty"`
	Key       string         `json:"key,omitempty"`
	Version   versionPayload `json:"version"`
	Options   match.Options  `json:"options,omitempty"`
	Not       bool           `json:"not,omitempty"`
}

// CheckResponse carries the outcome. Message is set only when Pass is false.
type CheckResponse struct {
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid check request: "+err.Error(), http.StatusBadRequest)
		return
	}
	log, err := s.Archive.Load(r.Context(), r.PathValue("name"))
	if err != nil {
		httpError(w, err)
		return
	}
	checker := storetest.NewChecker(log, s.Fixtures,
		storetest.WithPrinter(diag.Printer{}),
		storetest.WithLogger(s.Logger),
	)
	scope := match.Any()
	if req.Owner != "" {
		scope = match.Instance(eventlog.OwnerID(req.Owner))
	}
	var res storetest.Result
	switch req.Assertion {
	case AssertStored:
		res = checker.HaveStored(scope, req.File, req.Options)
	case AssertStoredVersion:
		res = checker.HaveStoredVersion(scope, req.File, req.Version.descriptor(), req.Options)
	case AssertDisposed:
		res = checker.HaveDisposed(scope, req.Key)
	case AssertDisposedVersion:
		res = checker.HaveDisposedVersion(scope, req.Key, req.Version.descriptor())
	default:
		http.Error(w, "unknown assertion "+req.Assertion, http.StatusBadRequest)
		return
	}
	if req.Not {
		res = res.Not()
	}
	out := CheckResponse{Pass: res.Pass}
	if !res.Pass {
		out.Message = res.Message()
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		status = http.StatusNotFound
	case xerrors.KindPermission:
		status = http.StatusForbidden
	case xerrors.KindInvalid:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
