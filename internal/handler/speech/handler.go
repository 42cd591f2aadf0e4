package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
	"github.com/zhouzirui/z-tutor/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/z-tutor/backend/internal/service/speech"
	"github.com/zhouzirui/z-tutor/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Configured() bool
	TranscribeAudio(rCtx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(rCtx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// SessionSource 提供当前会话，用于推断助手音色
type SessionSource interface {
	Session() chat.Session
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc  SpeechService
	sessions   SessionSource
	assistants assistant.Store
	locale     string
}

// New 创建语音处理器
func New(speechSvc SpeechService, sessions SessionSource, assistants assistant.Store, locale string) *Handler {
	if locale == "" {
		locale = "en-US"
	}
	return &Handler{
		speechSvc:  speechSvc,
		sessions:   sessions,
		assistants: assistants,
		locale:     locale,
	}
}

// RegisterRoutes 注册语音相关的路由；ws 为 nil 时语音对话返回 501
func (h *Handler) RegisterRoutes(r chi.Router, ws *WebSocketHandler) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)

		// 健康检查
		speechRouter.Get("/health", h.handleHealth)

		if ws != nil {
			ws.RegisterWebSocketRoutes(speechRouter)
		} else {
			speechRouter.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "speech websocket not available")
			})
		}
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

// handleTranscribeWithSession 处理带会话ID的语音转文本请求
func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, chi.URLParam(r, "sessionID"))
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

// handleSynthesizeWithSession 处理带会话ID的文本转语音请求
func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	err := r.ParseMultipartForm(32 << 20) // 32MB max
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = h.threadID()
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.locale
	}

	asrReq := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    h.inferAudioFormat(header.Filename),
		Language:  language,
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), asrReq)
	if err != nil {
		log.Printf("[speech] ASR error: %v", err)
		h.respondServiceError(w, err, "Speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if overrideSessionID != "" {
		req.SessionID = overrideSessionID
	}

	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if req.SessionID == "" {
		req.SessionID = h.threadID()
	}
	if req.Language == "" {
		req.Language = h.locale
	}

	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = h.resolveAssistantVoice()
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		h.respondServiceError(w, err, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) > 0 {
		format := resp.Format
		if format == "" {
			format = "octet-stream"
		}
		w.Header().Set("Content-Type", "audio/"+format)
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
		w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(resp.AudioData); err != nil {
			log.Printf("failed to write audio response: %v", err)
		}
	} else {
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, speechsvc.ErrNotConfigured) {
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	utils.RespondError(w, http.StatusBadGateway, message)
}

func (h *Handler) threadID() string {
	if h.sessions != nil {
		if id := h.sessions.Session().ThreadID; id != "" {
			return id
		}
	}
	return "default"
}

// resolveAssistantVoice 使用当前会话助手的音色
func (h *Handler) resolveAssistantVoice() string {
	if h.sessions == nil || h.assistants == nil {
		return ""
	}

	assistantID := strings.TrimSpace(h.sessions.Session().AssistantID)
	if assistantID == "" {
		return ""
	}

	profile, ok := h.assistants.FindByID(assistantID)
	if !ok || profile.Voice == "" {
		return speechsvc.NormalizeVoiceAlias(assistantID)
	}
	return speechsvc.NormalizeVoiceAlias(profile.Voice)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.speechSvc.Configured() {
		status = "unconfigured"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"service":  "speech",
		"language": h.locale,
	})
}

// inferAudioFormat 从文件名推断音频格式
func (h *Handler) inferAudioFormat(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".ogg", ".opus":
		return "ogg"
	case ".pcm", ".raw":
		return "pcm"
	default:
		return "wav"
	}
}
