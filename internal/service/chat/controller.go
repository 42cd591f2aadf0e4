// Package chat 实现会话控制器：初始化会话标识、提交用户轮次、清空会话。
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	"github.com/zhouzirui/z-tutor/backend/internal/store"
)

// State 是控制器状态机的当前状态。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateAwaitingReply State = "awaiting_reply"
)

// Status is the snapshot the view renders.
type Status struct {
	State   State  `json:"state"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Options 为控制器提供可选依赖。
type Options struct {
	// Threads 为 nil 时线程 ID 在本地生成。
	Threads ai.ThreadProvider
	// DefaultAssistantID 为空时使用 assistant.DefaultID。
	DefaultAssistantID string
}

// Controller owns the turn-taking rules around one persisted session.
type Controller struct {
	store      store.Store
	completer  ai.Completer
	assistants assistant.Store
	threads    ai.ThreadProvider
	defaultID  string

	newMessageID func() (string, error)
	newThreadID  func() (string, error)

	mu       sync.Mutex
	awaiting bool
	clearing bool
	lastErr  string
	watchers map[int]func(Status)
	nextID   int
}

// NewController wires the controller to its collaborators.
func NewController(st store.Store, completer ai.Completer, assistants assistant.Store, opts Options) *Controller {
	defaultID := opts.DefaultAssistantID
	if defaultID == "" {
		defaultID = assistant.DefaultID
	}

	return &Controller{
		store:        st,
		completer:    completer,
		assistants:   assistants,
		threads:      opts.Threads,
		defaultID:    defaultID,
		newMessageID: func() (string, error) { return gonanoid.New() },
		newThreadID:  newLocalThreadID,
		watchers:     make(map[int]func(Status)),
	}
}

// newLocalThreadID 生成基于时间的 UUIDv7。
func newLocalThreadID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Initialize 为缺失的 assistantId / threadId 赋值，重复调用无副作用。
func (c *Controller) Initialize(ctx context.Context) error {
	session := c.store.Get()

	if session.AssistantID == "" {
		if err := c.store.SetAssistantID(c.defaultID); err != nil {
			return fmt.Errorf("assign assistant id: %w", err)
		}
		log.Printf("[chat] assigned assistant=%s", c.defaultID)
	}

	if session.ThreadID == "" {
		threadID, err := c.allocateThread(ctx)
		if err != nil {
			return fmt.Errorf("allocate thread id: %w", err)
		}
		if err := c.store.SetThreadID(threadID); err != nil {
			return fmt.Errorf("assign thread id: %w", err)
		}
		log.Printf("[chat] assigned thread=%s", threadID)
	}

	if !session.Initialized() {
		c.notify()
	}
	return nil
}

// allocateThread 优先使用远端线程，失败时退回本地 ID。
func (c *Controller) allocateThread(ctx context.Context) (string, error) {
	if c.threads != nil {
		id, err := c.threads.NewThread(ctx)
		if err == nil {
			return id, nil
		}
		log.Printf("[chat] remote thread unavailable, use local id: %v", err)
	}
	return c.newThreadID()
}

// SubmitUserTurn 追加用户消息、调用远端补全并追加回复。
// 失败时 Status().Error 给出可展示的原因，用户消息保留不回滚。
func (c *Controller) SubmitUserTurn(ctx context.Context, text string) (*chat.Reply, error) {
	return c.SubmitUserTurnFunc(ctx, text, nil)
}

// SubmitUserTurnFunc 同 SubmitUserTurn；accepted 在用户消息持久化之后、请求远端之前调用。
// 前置条件不满足时不会调用 accepted。
func (c *Controller) SubmitUserTurnFunc(ctx context.Context, text string, accepted func(chat.Message)) (*chat.Reply, error) {
	session := c.store.Get()
	if !session.Initialized() {
		return nil, ErrNotInitialized
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	c.mu.Lock()
	if c.awaiting || c.clearing {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.awaiting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
		c.notify()
	}()

	reply, err := c.runTurn(ctx, session.AssistantID, text, accepted)
	if err != nil {
		c.setError(err)
		log.Printf("[chat] turn failed thread=%s: %v", session.ThreadID, err)
		return nil, err
	}

	c.setError(nil)
	return reply, nil
}

func (c *Controller) runTurn(ctx context.Context, assistantID, text string, accepted func(chat.Message)) (*chat.Reply, error) {
	userMsg, err := c.newMessage(text, true, "")
	if err != nil {
		return nil, err
	}
	if err := c.store.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	if accepted != nil {
		accepted(userMsg)
	}
	c.notify()

	profile := c.profile(assistantID)
	completion, err := c.completer.Complete(ctx, ai.Request{
		Model:        profile.Model,
		SystemPrompt: profile.Instructions,
		UserText:     text,
	})
	if err != nil {
		return nil, err
	}

	replyMsg, err := c.newMessage(completion.Text, false, completion.Translation)
	if err != nil {
		return nil, err
	}
	if err := c.store.AppendMessage(replyMsg); err != nil {
		return nil, fmt.Errorf("append reply message: %w", err)
	}

	return &chat.Reply{Text: completion.Text, Translation: completion.Translation}, nil
}

func (c *Controller) newMessage(text string, isUser bool, translation string) (chat.Message, error) {
	id, err := c.newMessageID()
	if err != nil {
		return chat.Message{}, fmt.Errorf("generate message id: %w", err)
	}
	return chat.Message{ID: id, Text: text, IsUser: isUser, Translation: translation}, nil
}

// profile 找不到对应助手时回退到默认导师设定。
func (c *Controller) profile(id string) assistant.Profile {
	if c.assistants != nil {
		if p, ok := c.assistants.FindByID(id); ok {
			return p
		}
	}
	return assistant.Profile{ID: id, Instructions: assistant.DefaultInstructions}
}

// ClearConversation 清空消息并重置线程。远端线程创建失败只记录日志。
// 有回复未返回时拒绝，返回 ErrBusy。
func (c *Controller) ClearConversation(ctx context.Context) error {
	c.mu.Lock()
	if c.awaiting || c.clearing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.clearing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.clearing = false
		c.mu.Unlock()
	}()

	session := c.store.Get()

	var threadID string
	if session.AssistantID != "" && c.threads != nil {
		id, err := c.threads.NewThread(ctx)
		if err != nil {
			log.Printf("[chat] failed to create remote thread on clear: %v", err)
		} else {
			threadID = id
		}
	}

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if threadID != "" {
		if err := c.store.SetThreadID(threadID); err != nil {
			return fmt.Errorf("assign thread id: %w", err)
		}
	}

	c.setError(nil)
	log.Printf("[chat] conversation cleared thread=%q", threadID)
	c.notify()
	return nil
}

// Status 返回当前状态快照。
func (c *Controller) Status() Status {
	initialized := c.store.Get().Initialized()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{Loading: c.awaiting, Error: c.lastErr}
	switch {
	case c.awaiting:
		status.State = StateAwaitingReply
	case initialized:
		status.State = StateInitialized
	default:
		status.State = StateUninitialized
	}
	return status
}

// Session 返回会话副本。
func (c *Controller) Session() chat.Session {
	return c.store.Get()
}

// Watch 注册状态变化回调，返回取消函数。
// 回调在触发变化的 goroutine 中同步执行，不能阻塞；需要 IO 的调用方自行转到别的 goroutine。
func (c *Controller) Watch(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	status := c.Status()

	c.mu.Lock()
	fns := make([]func(Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = Describe(err)
}
