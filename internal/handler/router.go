package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/handler/report"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/habitat-kiosk/backend/internal/middleware"
	"github.com/zhouzirui/habitat-kiosk/backend/pkg/utils"
)

// Options 汇总运维接口需要的依赖。Events 为空时不挂载 websocket 通道。
type Options struct {
	Session session.State
	Reports report.Source
	Events  http.Handler
}

// NewRouter wires the ops HTTP surface.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		if opts.Session != nil {
			session.New(opts.Session).RegisterRoutes(api)
		}
		if opts.Reports != nil {
			report.New(opts.Reports).RegisterRoutes(api)
		}
	})

	// 展示端以 websocket 连接时，事件流走这里而不是 TCP
	if opts.Events != nil {
		r.Handle("/ws/events", opts.Events)
	}

	return r
}
