package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// DefaultLocale 识别语言
const DefaultLocale = "en-US"

// Recognizer 打开一条流式识别会话
type Recognizer interface {
	OpenStream(ctx context.Context, req *speechmodel.StreamRequest) (RecognitionStream, error)
}

// RecognitionStream 进行中的识别会话。Events 在会话结束后关闭。
type RecognitionStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan *speechmodel.StreamingASRChunk
	Wait() error
	Close() error
}

// Permissions 麦克风权限查询
type Permissions interface {
	MicrophoneGranted(ctx context.Context) (bool, error)
}

// Granted 是由客户端声明的固定权限
type Granted bool

func (g Granted) MicrophoneGranted(context.Context) (bool, error) {
	return bool(g), nil
}

// Transcript 一次发言的最终结果
type Transcript struct {
	Text string
	Err  error
}

// Capture 语音输入适配器
type Capture struct {
	recognizer  Recognizer
	permissions Permissions
	locale      string
}

// NewCapture 创建语音输入适配器，locale 为空时使用 DefaultLocale
func NewCapture(recognizer Recognizer, permissions Permissions, locale string) *Capture {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DefaultLocale
	}
	if permissions == nil {
		permissions = Granted(true)
	}
	return &Capture{recognizer: recognizer, permissions: permissions, locale: locale}
}

// Locale 返回识别语言
func (c *Capture) Locale() string {
	return c.locale
}

// Start 检查权限并开始一次发言的识别
func (c *Capture) Start(ctx context.Context, sessionID string) (*Listening, error) {
	granted, err := c.permissions.MicrophoneGranted(ctx)
	if err != nil {
		return nil, &AdapterError{Op: OpStart, Err: err}
	}
	if !granted {
		return nil, ErrPermissionDenied
	}
	if c.recognizer == nil {
		return nil, &AdapterError{Op: OpStart, Err: errors.New("no recognizer configured")}
	}

	stream, err := c.recognizer.OpenStream(ctx, &speechmodel.StreamRequest{
		SessionID: sessionID,
		Language:  c.locale,
	})
	if err != nil {
		return nil, &AdapterError{Op: OpStart, Err: err}
	}

	l := &Listening{
		stream:      stream,
		result:      make(chan Transcript, 1),
		subscribers: make(map[int]func(string)),
	}
	go l.run()
	return l, nil
}

// Listening 一次发言的识别句柄
type Listening struct {
	stream RecognitionStream
	result chan Transcript

	mu          sync.Mutex
	subscribers map[int]func(string)
	nextID      int
	canceled    bool
}

// Write 送入一段音频
func (l *Listening) Write(audio []byte) error {
	if err := l.stream.SendAudio(audio); err != nil {
		return &AdapterError{Op: OpRecognize, Err: err}
	}
	return nil
}

// Stop 结束音频输入，等待最终结果
func (l *Listening) Stop() error {
	if err := l.stream.CloseSend(); err != nil {
		return &AdapterError{Op: OpRecognize, Err: err}
	}
	return nil
}

// Cancel 放弃本次识别，不再投递结果
func (l *Listening) Cancel() {
	l.mu.Lock()
	l.canceled = true
	l.mu.Unlock()
	l.stream.Close()
}

// Subscribe 注册中间结果回调，返回取消函数
func (l *Listening) Subscribe(fn func(partial string)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subscribers[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

// Result 最多投递一次最终结果，之后关闭。文本为空或被取消时直接关闭。
func (l *Listening) Result() <-chan Transcript {
	return l.result
}

func (l *Listening) run() {
	defer close(l.result)
	defer l.stream.Close()

	var last string
	for chunk := range l.stream.Events() {
		if chunk == nil {
			continue
		}
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		last = text
		l.notify(text)
	}
	err := l.stream.Wait()

	l.mu.Lock()
	canceled := l.canceled
	l.mu.Unlock()

	switch {
	case canceled:
		return
	case err != nil:
		log.Printf("[voice] recognition ended with error: %v", err)
		l.result <- Transcript{Text: last, Err: &AdapterError{Op: OpRecognize, Err: err}}
	case last != "":
		l.result <- Transcript{Text: last}
	}
}

func (l *Listening) notify(partial string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(partial)
	}
}
