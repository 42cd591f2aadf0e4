package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Audio 合成后的一段语音
type Audio struct {
	Text   string
	Data   []byte
	Format string
}

// Synthesizer 文本转语音后端
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// AudioSink 接收合成好的语音
type AudioSink interface {
	Play(ctx context.Context, audio Audio) error
}

// SinkFunc 将函数适配为 AudioSink
type SinkFunc func(ctx context.Context, audio Audio) error

func (f SinkFunc) Play(ctx context.Context, audio Audio) error {
	return f(ctx, audio)
}

// Playback 语音输出适配器：单个 worker 按 FIFO 顺序逐条朗读。
type Playback struct {
	synth   Synthesizer
	sink    AudioSink
	voice   string
	onError func(error)

	mu     sync.Mutex
	queue  []string
	closed bool
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayback 创建并启动语音输出。onError 可为 nil。
func NewPlayback(synth Synthesizer, sink AudioSink, voice string, onError func(error)) *Playback {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Playback{
		synth:   synth,
		sink:    sink,
		voice:   voice,
		onError: onError,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// SetVoice 切换后续朗读使用的音色
func (p *Playback) SetVoice(voice string) {
	p.mu.Lock()
	p.voice = voice
	p.mu.Unlock()
}

// Speak 排队朗读，立即返回
func (p *Playback) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, text)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close 丢弃未朗读的内容并等待 worker 退出
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

func (p *Playback) next() (string, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return "", "", false
	}
	text := p.queue[0]
	p.queue = p.queue[1:]
	return text, p.voice, true
}

func (p *Playback) run() {
	defer close(p.done)

	for {
		text, voice, ok := p.next()
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}
		p.speakOne(text, voice)
	}
}

func (p *Playback) speakOne(text, voice string) {
	audio, err := p.synth.Synthesize(p.ctx, text, voice)
	if err == nil {
		err = p.sink.Play(p.ctx, audio)
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if p.onError != nil {
		p.onError(&AdapterError{Op: OpSpeak, Err: err})
	}
}
