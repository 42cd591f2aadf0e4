package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	assistantHandler "github.com/zhouzirui/z-tutor/backend/internal/handler/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/handler/chat"
	"github.com/zhouzirui/z-tutor/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/z-tutor/backend/internal/middleware"
	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	chatService "github.com/zhouzirui/z-tutor/backend/internal/service/chat"
	speechService "github.com/zhouzirui/z-tutor/backend/internal/service/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

// Deps 路由依赖。Speech 为 nil 时语音接口不注册。
type Deps struct {
	Assistants assistant.Store
	Controller *chatService.Controller
	Speech     *speechService.Service
	Locale     string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		assistantHandler.New(deps.Assistants).RegisterRoutes(api)
		chat.New(deps.Controller).RegisterRoutes(api)

		var (
			speechSvc   speech.SpeechService
			recognizer  voice.Recognizer
			synthesizer speech.SynthesizerFactory
		)
		if deps.Speech != nil {
			speechSvc = deps.Speech
			if deps.Speech.Configured() {
				recognizer = voice.NewVolcengineRecognizer(deps.Speech)
				synthesizer = func(sessionID string) voice.Synthesizer {
					return voice.NewVolcengineSynthesizer(deps.Speech, sessionID, deps.Locale)
				}
			}
		}

		// 未配置语音时仍提供文本对话的 WebSocket
		ws := speech.NewWebSocketHandler(deps.Controller, deps.Assistants, recognizer, synthesizer, deps.Locale)
		if speechSvc != nil {
			speech.New(speechSvc, deps.Controller, deps.Assistants, deps.Locale).RegisterRoutes(api, ws)
		} else {
			api.Route("/speech", ws.RegisterWebSocketRoutes)
		}
	})

	return r
}
