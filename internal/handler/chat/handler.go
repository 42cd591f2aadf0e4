package chat

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-tutor/backend/internal/service/chat"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// Handler 会话的HTTP处理器
type Handler struct {
	ctrl *chatService.Controller
}

// New 创建会话处理器
func New(ctrl *chatService.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversation", func(conv chi.Router) {
		conv.Get("/", h.handleGet)
		conv.Post("/init", h.handleInit)
		conv.Post("/turns", h.handleSubmitTurn)
		conv.Delete("/", h.handleClear)
	})
}

type conversationView struct {
	Session chat.Session       `json:"session"`
	Status  chatService.Status `json:"status"`
	Reply   *chat.Reply        `json:"reply,omitempty"`
}

func (h *Handler) view(reply *chat.Reply) conversationView {
	return conversationView{Session: h.ctrl.Session(), Status: h.ctrl.Status(), Reply: reply}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.view(nil))
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Initialize(r.Context()); err != nil {
		log.Printf("[chat] initialize failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, chatService.Describe(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(nil))
}

func (h *Handler) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.ctrl.SubmitUserTurn(r.Context(), payload.Text)
	if err != nil {
		utils.RespondError(w, StatusFor(err), chatService.Describe(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(reply))
}

// handleClear 清空后立即重新初始化，保证会话可继续使用
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ClearConversation(r.Context()); err != nil {
		log.Printf("[chat] clear failed: %v", err)
		utils.RespondError(w, StatusFor(err), chatService.Describe(err))
		return
	}
	if err := h.ctrl.Initialize(r.Context()); err != nil {
		log.Printf("[chat] re-initialize after clear failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, chatService.Describe(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(nil))
}

// StatusFor 将控制器错误映射为 HTTP 状态码
func StatusFor(err error) int {
	var httpErr *ai.HTTPError
	switch {
	case errors.Is(err, chatService.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrNotInitialized), errors.Is(err, chatService.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ai.ErrUnauthorized), errors.Is(err, ai.ErrMalformedResponse), errors.As(err, &httpErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
