package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/odvcencio/babel/pkg/object"
)

// ServerOptions tunes a Server.
type ServerOptions struct {
	// Token, when set, is required as a bearer token on every protocol
	// route.
	Token string
	// RateLimit caps protocol requests per second across all clients.
	// Zero disables the limit. Burst defaults to twice the rate.
	RateLimit float64
	Burst     int
	Logger    *slog.Logger
}

// Server exposes a Remote over HTTP.
type Server struct {
	store   Remote
	token   string
	limiter *rate.Limiter
	logger  *slog.Logger
	engine  *gin.Engine
}

// NewServer builds the protocol server for store.
func NewServer(store Remote, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		token:  strings.TrimSpace(opts.Token),
		logger: logger.With("component", "server"),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(2*opts.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(APIPrefix, s.throttle(), s.authenticate())
	api.GET("/hashes", s.listHashes)
	api.HEAD("/objects/:hash", s.headObject)
	api.GET("/objects/:hash", s.getObject)
	api.POST("/objects", s.postObject)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status)
	}
}

// throttle answers 429, which clients retry with backoff, once the limiter
// runs dry.
func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", "")
			return
		}
		c.Next()
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			abort(c, http.StatusUnauthorized, CodeUnauthorized, "unauthorized", "")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, msg, detail string) {
	c.AbortWithStatusJSON(status, RemoteError{Code: code, Message: msg, Detail: detail})
}

func (s *Server) listHashes(c *gin.Context) {
	hashes, err := s.store.Hashes(c.Request.Context())
	if err != nil {
		s.logger.Error("list hashes", "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, "list hashes failed", "")
		return
	}
	if hashes == nil {
		hashes = []object.Hash{}
	}
	resp := hashList{Hashes: hashes}
	if a, ok := s.store.(interface{ Algorithm() object.Algorithm }); ok {
		resp.Algorithm = a.Algorithm()
		c.Header(headerAlgorithm, string(resp.Algorithm))
	}
	s.respond(c, "application/json", resp)
}

func (s *Server) hashParam(c *gin.Context) (object.Hash, bool) {
	h := object.Hash(c.Param("hash"))
	if err := object.ValidateHash(h); err != nil {
		abort(c, http.StatusBadRequest, CodeBadRequest, "invalid hash", err.Error())
		return "", false
	}
	return h, true
}

func (s *Server) headObject(c *gin.Context) {
	h, ok := s.hashParam(c)
	if !ok {
		return
	}
	found, err := s.store.Has(c.Request.Context(), h)
	if err != nil {
		s.logger.Error("has", "hash", h.Short(), "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getObject(c *gin.Context) {
	h, ok := s.hashParam(c)
	if !ok {
		return
	}
	b, err := s.store.Fetch(c.Request.Context(), h)
	if errors.Is(err, object.ErrNotFound) {
		abort(c, http.StatusNotFound, CodeNotFound, "object not found", string(h))
		return
	}
	if err != nil {
		s.logger.Error("fetch", "hash", h.Short(), "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, "fetch failed", "")
		return
	}
	payload, err := encodeBundle(b)
	if err != nil {
		abort(c, http.StatusInternalServerError, CodeInternal, "encode failed", err.Error())
		return
	}
	s.write(c, contentBundle, payload)
}

func (s *Server) postObject(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limitBundle+1))
	if err != nil {
		abort(c, http.StatusBadRequest, CodeBadRequest, "read body failed", err.Error())
		return
	}
	if len(body) > limitBundle {
		abort(c, http.StatusRequestEntityTooLarge, CodeBadRequest, "bundle too large", "")
		return
	}
	if isZstdEncoded(c.GetHeader("Content-Encoding")) {
		body, err = decompressZstd(body, limitBundle)
		if err != nil {
			abort(c, http.StatusBadRequest, CodeBadRequest, "decompress failed", err.Error())
			return
		}
	}
	b, err := decodeBundle(body)
	if err != nil {
		abort(c, http.StatusBadRequest, CodeBadRequest, "malformed bundle", err.Error())
		return
	}
	if err := s.store.Push(c.Request.Context(), b); err != nil {
		if errors.Is(err, object.ErrHashMismatch) {
			s.logger.Warn("rejected bundle", "hash", b.Object.Hash.Short(), "error", err)
			abort(c, http.StatusConflict, CodeHashMismatch, "hash mismatch", err.Error())
			return
		}
		s.logger.Error("ingest", "hash", b.Object.Hash.Short(), "error", err)
		if errors.Is(err, object.ErrBackendUnavailable) || errors.Is(err, object.ErrPoolTimeout) {
			abort(c, http.StatusServiceUnavailable, CodeUnavailable, "store unavailable", err.Error())
			return
		}
		abort(c, http.StatusUnprocessableEntity, CodeBadRequest, "ingest failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"hash": b.Object.Hash})
}

func (s *Server) respond(c *gin.Context, contentType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		abort(c, http.StatusInternalServerError, CodeInternal, "encode failed", err.Error())
		return
	}
	s.write(c, contentType, payload)
}

// write sends payload, zstd-compressed when the client accepts it.
func (s *Server) write(c *gin.Context, contentType string, payload []byte) {
	if isZstdEncoded(c.GetHeader("Accept-Encoding")) {
		compressed, err := compressZstd(payload)
		if err == nil {
			c.Header("Content-Encoding", "zstd")
			c.Data(http.StatusOK, contentType, compressed)
			return
		}
		s.logger.Warn("compress response", "error", err)
	}
	c.Data(http.StatusOK, contentType, payload)
}
