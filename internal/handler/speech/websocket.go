package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tutor/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/z-tutor/backend/internal/service/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// SynthesizerFactory 为每条连接创建合成后端
type SynthesizerFactory func(sessionID string) voice.Synthesizer

// WebSocketHandler 语音对话：麦克风音频 → 识别 → 会话控制器 → 合成
type WebSocketHandler struct {
	ctrl         *chatservice.Controller
	assistants   assistant.Store
	recognizer   voice.Recognizer
	synthesizers SynthesizerFactory
	locale       string
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。recognizer 或 synthesizers 为 nil 时对应能力不可用。
func NewWebSocketHandler(ctrl *chatservice.Controller, assistants assistant.Store, recognizer voice.Recognizer, synthesizers SynthesizerFactory, locale string) *WebSocketHandler {
	return &WebSocketHandler{
		ctrl:         ctrl,
		assistants:   assistants,
		recognizer:   recognizer,
		synthesizers: synthesizers,
		locale:       locale,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StartMessage 开始一次语音输入，Granted 为客户端声明的麦克风授权
type StartMessage struct {
	Granted bool `json:"granted"`
}

// AudioMessage 音频分片（PCM 16kHz 16bit mono，base64）
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
}

// TextMessage 文本输入
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConnection 单条连接的状态。写操作经 writeMu 串行化。
type wsConnection struct {
	h         *WebSocketHandler
	conn      *websocket.Conn
	sessionID string
	ctx       context.Context

	writeMu sync.Mutex

	mu        sync.Mutex
	listening *voice.Listening
	playback  *voice.Playback
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &wsConnection{
		h:         h,
		conn:      conn,
		sessionID: uuid.NewString(),
		ctx:       ctx,
	}
	if h.synthesizers != nil {
		c.playback = voice.NewPlayback(h.synthesizers(c.sessionID), voice.SinkFunc(c.playAudio), c.currentVoice(), func(err error) {
			log.Printf("[websocket] playback failed: %v", err)
			c.sendError(err)
		})
	}
	defer c.close()

	log.Printf("[websocket] new connection %s", c.sessionID)

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	go c.pingLoop()

	// 控制器同步回调，写连接放到单独的 goroutine，慢客户端不拖住其他会话
	notifier := newStatusNotifier(c.sendStatus)
	go notifier.run(ctx)
	unwatch := h.ctrl.Watch(func(chatservice.Status) { notifier.notify() })
	defer unwatch()

	if err := h.ctrl.Initialize(ctx); err != nil {
		log.Printf("[websocket] initialize failed: %v", err)
		c.sendError(err)
	}
	c.sendStatus()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		c.handleMessage(&msg)
	}
}

func (c *wsConnection) handleMessage(msg *inboundMessage) {
	switch msg.Type {
	case "start":
		var start StartMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &start); err != nil {
				c.sendErrorText("invalid start payload")
				return
			}
		}
		c.startListening(start.Granted)
	case "audio":
		var audio AudioMessage
		if err := json.Unmarshal(msg.Data, &audio); err != nil {
			c.sendErrorText("invalid audio payload")
			return
		}
		c.writeAudio(audio.AudioData)
	case "stop":
		c.stopListening()
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			c.sendErrorText("invalid text payload")
			return
		}
		go c.submit(text.Text)
	case "clear":
		c.clear()
	default:
		c.sendErrorText("unsupported message type: " + msg.Type)
	}
}

func (c *wsConnection) startListening(granted bool) {
	capture := voice.NewCapture(c.h.recognizer, voice.Granted(granted), c.h.locale)
	listening, err := capture.Start(c.ctx, c.sessionID)
	if err != nil {
		log.Printf("[websocket] start listening failed: %v", err)
		c.sendError(err)
		return
	}

	c.mu.Lock()
	previous := c.listening
	c.listening = listening
	c.mu.Unlock()
	if previous != nil {
		previous.Cancel()
	}

	listening.Subscribe(func(partial string) {
		c.send("partial", map[string]any{"text": partial})
	})

	go func() {
		for transcript := range listening.Result() {
			if transcript.Err != nil {
				c.sendError(transcript.Err)
				continue
			}
			c.submit(transcript.Text)
		}
		c.mu.Lock()
		if c.listening == listening {
			c.listening = nil
		}
		c.mu.Unlock()
	}()
}

func (c *wsConnection) currentListening() *voice.Listening {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *wsConnection) writeAudio(data []byte) {
	listening := c.currentListening()
	if listening == nil {
		c.sendErrorText("voice input has not been started")
		return
	}
	if err := listening.Write(data); err != nil {
		c.sendError(err)
	}
}

func (c *wsConnection) stopListening() {
	listening := c.currentListening()
	if listening == nil {
		return
	}
	if err := listening.Stop(); err != nil {
		c.sendError(err)
	}
}

// submit 提交一轮用户输入；只朗读助手回复
func (c *wsConnection) submit(text string) {
	// 用户消息落盘后才回显，被拒绝的输入不会出现在界面上
	reply, err := c.h.ctrl.SubmitUserTurnFunc(c.ctx, strings.TrimSpace(text), func(msg chat.Message) {
		c.send("user", map[string]any{"id": msg.ID, "text": msg.Text})
	})
	if err != nil {
		log.Printf("[websocket] submit failed: %v", err)
		c.sendError(err)
		return
	}

	c.send("ai", reply)
	if c.playback != nil {
		c.playback.SetVoice(c.currentVoice())
		c.playback.Speak(reply.Text)
	}
}

func (c *wsConnection) clear() {
	if err := c.h.ctrl.ClearConversation(c.ctx); err != nil {
		c.sendError(err)
		return
	}
	if err := c.h.ctrl.Initialize(c.ctx); err != nil {
		c.sendError(err)
	}
}

// currentVoice 当前助手的音色
func (c *wsConnection) currentVoice() string {
	id := c.h.ctrl.Session().AssistantID
	if id == "" || c.h.assistants == nil {
		return ""
	}
	if profile, ok := c.h.assistants.FindByID(id); ok && profile.Voice != "" {
		return speechsvc.NormalizeVoiceAlias(profile.Voice)
	}
	return speechsvc.NormalizeVoiceAlias(id)
}

func (c *wsConnection) playAudio(ctx context.Context, audio voice.Audio) error {
	if len(audio.Data) == 0 {
		return nil
	}
	log.Printf("[websocket] TTS sending audio session=%s bytes=%d format=%s", c.sessionID, len(audio.Data), audio.Format)
	return c.write(outgoingMessage{
		Type: "tts",
		Data: map[string]any{
			"text":      audio.Text,
			"audioData": base64.StdEncoding.EncodeToString(audio.Data),
			"format":    audio.Format,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsConnection) sendStatus() {
	c.send("status", map[string]any{
		"status":  c.h.ctrl.Status(),
		"session": c.h.ctrl.Session(),
	})
}

func (c *wsConnection) sendError(err error) {
	c.sendErrorText(chatservice.Describe(err))
}

func (c *wsConnection) sendErrorText(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *wsConnection) send(msgType string, data interface{}) {
	msg := outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()}
	if err := c.write(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
}

func (c *wsConnection) write(msg outgoingMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// statusNotifier 合并状态通知：积压时只保留一次待发送
type statusNotifier struct {
	pending chan struct{}
	send    func()
}

func newStatusNotifier(send func()) *statusNotifier {
	return &statusNotifier{pending: make(chan struct{}, 1), send: send}
}

// notify 不阻塞
func (n *statusNotifier) notify() {
	select {
	case n.pending <- struct{}{}:
	default:
	}
}

func (n *statusNotifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.pending:
			n.send()
		}
	}
}

// pingLoop 定期发送ping消息
func (c *wsConnection) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) close() {
	if listening := c.currentListening(); listening != nil {
		listening.Cancel()
	}
	if c.playback != nil {
		c.playback.Close()
	}
	log.Printf("[websocket] connection %s closed", c.sessionID)
}
