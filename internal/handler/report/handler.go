package report

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	"github.com/zhouzirui/habitat-kiosk/backend/pkg/utils"
)

// Source 提供按用户聚合的情绪汇总
type Source interface {
	TeacherReport(ctx context.Context) (*report.Report, error)
}

// Handler 教师报告的 HTTP 处理器
type Handler struct {
	source Source
}

// New 创建报告处理器
func New(source Source) *Handler {
	return &Handler{source: source}
}

// RegisterRoutes 注册报告路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/report", h.handleReport)
}

// handleReport 返回与线协议相同顺序的 username -> emotion 映射
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.source.TeacherReport(r.Context())
	if err != nil {
		log.Printf("[ops] load teacher report failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "report unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, rep)
}
