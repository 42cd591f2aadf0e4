package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Handler 助手列表的HTTP处理器
type Handler struct {
	assistants assistant.Store
}

// New 创建助手处理器
func New(assistants assistant.Store) *Handler {
	return &Handler{assistants: assistants}
}

// RegisterRoutes 注册助手相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistants", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.assistants.List())
}
