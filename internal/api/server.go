package api

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
	"PixelBoard/internal/images"
	"PixelBoard/internal/observability/metrics"
	"PixelBoard/internal/payment"
	"PixelBoard/internal/placement"
	"PixelBoard/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Dependencies 汇总 HTTP 层依赖的领域服务。
type Dependencies struct {
	Store     *grid.Store
	Ledger    *placement.Ledger
	Images    *images.Service
	Gate      *payment.Gate
	Hub       *events.Hub
	Publisher events.Publisher
	// Limiter 限制 POST /api/images 的调用频率，为空时不限流。
	Limiter *RateLimiter
	// Viewer 是浏览器查看器的静态文件，为空时不挂载。
	Viewer fs.FS
}

// Server 暴露网格市场的 REST 接口与查看器。
type Server struct {
	addr    string
	deps    Dependencies
	log     *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Ledger == nil || deps.Images == nil || deps.Gate == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "api server requires grid store, ledger, image service and payment gate")
	}
	if deps.Publisher == nil {
		if deps.Hub != nil {
			deps.Publisher = deps.Hub
		} else {
			deps.Publisher = events.Nop{}
		}
	}
	s := &Server{addr: addr, deps: deps, log: logger.Named("api")}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回完整的路由，测试中直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(s.log))
	r.Use(Logging(s.log))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/pixels", s.handlePixels)
		r.Get("/pixels/{x}/{y}", s.handlePixel)
		r.With(s.deps.Gate.Protect("POST /api/pixels", s.pricePaint)).Post("/pixels", s.handlePaint)
		r.Get("/ads", s.handleListAds)
		r.With(s.deps.Gate.Protect("POST /api/ads", s.priceAd)).Post("/ads", s.handlePlaceAd)
		r.Get("/space", s.handleFindSpace)
		if s.deps.Limiter != nil {
			r.With(s.deps.Limiter.Handler).Post("/images", s.handleGenerateImage)
		} else {
			r.Post("/images", s.handleGenerateImage)
		}
		r.Get("/images/{id}", s.handleImage)
		if s.deps.Hub != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, xerrors.New(xerrors.CodeNotFound, "route not found", xerrors.WithValue(req.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: xerrors.Payload{
			Code:    xerrors.CodeInvalidInput,
			Message: "method not allowed",
			Details: map[string]string{"method": req.Method},
		}})
	})

	if s.deps.Viewer != nil {
		r.Handle("/*", http.FileServer(http.FS(s.deps.Viewer)))
	}
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。关闭时最多等待 5 秒。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	if s.deps.Limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.Limiter.Cleanup()
		}
	}
}

// publish 发布事件，失败只记录日志。
func (s *Server) publish(ctx context.Context, typ events.Type, data any) {
	evt, err := events.New(typ, data)
	if err != nil {
		s.log.Warn("构造事件失败", "type", typ, "error", err)
		return
	}
	if err := s.deps.Publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("发布事件失败", "type", typ, "error", err)
	}
}

func (s *Server) recordGridStats() {
	stats := s.deps.Store.Stats()
	metrics.SetGridStats(stats.CellsSold, int64(stats.Revenue))
}
