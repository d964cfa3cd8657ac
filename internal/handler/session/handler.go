package session

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/habitat-kiosk/backend/internal/model/session"
	"github.com/zhouzirui/habitat-kiosk/backend/pkg/utils"
)

// State 是会话运行器对外暴露的只读视图
type State interface {
	Snapshot() (model.Snapshot, bool)
	HeatmapPath() (string, bool)
}

// Handler 提供会话状态和注视热力图
type Handler struct {
	state State
}

// New 创建会话处理器
func New(state State) *Handler {
	return &Handler{state: state}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleSnapshot)
	r.Get("/heatmap", h.handleHeatmap)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.Snapshot()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no client connected yet")
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	path, ok := h.state.HeatmapPath()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "heatmap not generated")
		return
	}
	if _, err := os.Stat(path); err != nil {
		utils.RespondError(w, http.StatusNotFound, "heatmap not generated")
		return
	}
	utils.RespondFile(w, r, path, "image/png")
}
