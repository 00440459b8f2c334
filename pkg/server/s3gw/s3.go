// Package s3gw exposes a storage instance over the S3 protocol, so a program
// under test can write to the fake engine with a stock S3 client while every
// PUT, COPY and DELETE is recorded in the engine's event log.
package s3gw

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/johannesboyne/gofakes3"
	"go.uber.org/zap"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/server/middleware"
)

// Options configure the S3 gateway.
type Options struct {
	APIKey string
	Logger *zap.Logger
}

// Server serves the engine bucket of Storage. Paths without the bucket
// prefix are treated as keys inside it.
type Server struct {
	Storage *blob.Storage
	Opt     Options

	handlerOnce sync.Once
	handler     http.Handler
}

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.httpHandler()}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpHandler().ServeHTTP(w, r)
}

func (s *Server) httpHandler() http.Handler {
	s.handlerOnce.Do(func() {
		s3 := gofakes3.New(NewBackend(s.Storage)).Server()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.rewriteBucketPath(r)
			s3.ServeHTTP(w, r)
		})
		s.handler = middleware.Wrap(handler,
			middleware.RequestLog(s.Opt.Logger),
			middleware.APIKeyAuth(s.Opt.APIKey),
			middleware.ContentLength(),
		)
	})
	return s.handler
}

func (s *Server) rewriteBucketPath(r *http.Request) {
	bucket := s.Storage.Engine().Bucket()
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	if trimmed == "" {
		return
	}
	if trimmed == bucket || strings.HasPrefix(trimmed, bucket+"/") {
		return
	}
	newPath := path.Join("/", bucket, trimmed)
	r.URL.Path = newPath
	r.URL.RawPath = newPath
}
