package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// DefaultASRURL 双向流式识别端点（优化版）
const DefaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

const (
	asrChunkBytes   = 6400 // 16kHz, 16bit, mono, 200ms
	asrSuccessCode  = 20000000
	defaultLanguage = "en-US"
)

// ErrStreamClosed 表示识别流已关闭。
var ErrStreamClosed = errors.New("recognition stream closed")

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// ASRRequest 火山引擎ASR请求结构（按文档格式）
type ASRRequest struct {
	User struct {
		UID      string `json:"uid,omitempty"`
		Platform string `json:"platform,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// VolcengineASRClient 火山引擎流式识别客户端
type VolcengineASRClient struct {
	config   *speech.SpeechConfig
	pool     *ConnectionPool
	errors   *ErrorHandler
	url      string
	interval time.Duration // 一次性识别时每包之间的间隔
}

// NewVolcengineASRClient 创建火山引擎ASR客户端
func NewVolcengineASRClient(config *speech.SpeechConfig, pool *ConnectionPool, errorHandler *ErrorHandler) *VolcengineASRClient {
	url := strings.TrimSpace(config.ASRURL)
	if url == "" {
		url = DefaultASRURL
	}
	return &VolcengineASRClient{
		config:   config,
		pool:     pool,
		errors:   errorHandler,
		url:      url,
		interval: 200 * time.Millisecond,
	}
}

// OpenStream 建立识别会话并发送参数包，之后可持续写入音频。
func (c *VolcengineASRClient) OpenStream(ctx context.Context, req *speech.StreamRequest) (*ASRStream, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.pool.ConnectWithRetry(ctx, c.url, header, sessionID)
	if err != nil {
		c.errors.HandleConnectionError(sessionID, err)
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[ASR] connected session=%s logid=%s", sessionID, logid)
		}
	}

	stream := &ASRStream{
		client:    c,
		conn:      conn,
		sessionID: sessionID,
		sequence:  2, // FullClientRequest 占用序号1，音频从2开始
		events:    make(chan *speech.StreamingASRChunk, 16),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}

	payload, err := sonic.Marshal(c.buildASRRequest(req, sessionID))
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	if err := stream.writeFullRequest(payload); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	go stream.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stream.done:
		}
	}()
	return stream, nil
}

// buildASRRequest 构建符合火山引擎API格式的ASR请求
func (c *VolcengineASRClient) buildASRRequest(req *speech.StreamRequest, sessionID string) *ASRRequest {
	asrReq := &ASRRequest{}
	asrReq.User.UID = sessionID

	asrReq.Audio.Format = strings.TrimSpace(req.Format)
	if asrReq.Audio.Format == "" {
		asrReq.Audio.Format = "pcm"
	}

	asrReq.Audio.Language = strings.TrimSpace(req.Language)
	if asrReq.Audio.Language == "" {
		asrReq.Audio.Language = strings.TrimSpace(c.config.ASRLanguage)
	}
	if asrReq.Audio.Language == "" {
		asrReq.Audio.Language = defaultLanguage
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = c.config.ASRSampleRate
	}
	if rate <= 0 {
		rate = 16000
	}

	asrReq.Audio.Codec = "raw"
	asrReq.Audio.Rate = rate
	asrReq.Audio.Bits = 16
	asrReq.Audio.Channel = 1

	asrReq.Request.ModelName = "bigmodel"
	asrReq.Request.EnableITN = true
	asrReq.Request.EnablePunc = true
	asrReq.Request.ShowUtterances = true
	asrReq.Request.ResultType = "full" // 每次返回截至目前的全文
	asrReq.Request.EndWindowSize = 800 // 强制判停时间800ms

	return asrReq
}

// TranscribeAudio 一次性识别：读取全部音频，分包送入流并等待最终结果。
func (c *VolcengineASRClient) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data to send")
	}

	stream, err := c.OpenStream(ctx, &speech.StreamRequest{
		SessionID: req.SessionID,
		Format:    req.Format,
		Language:  req.Language,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	sendErr := make(chan error, 1)
	go func() {
		err := c.sendChunks(ctx, stream, audio)
		if err != nil {
			stream.Close()
		}
		sendErr <- err
	}()

	var (
		last *speech.StreamingASRChunk
		text string
	)
	for chunk := range stream.Events() {
		last = chunk
		if chunk.Text != "" {
			text = chunk.Text
		}
	}
	waitErr := stream.Wait()
	sendFailure := <-sendErr
	if waitErr != nil {
		if sendFailure != nil {
			return nil, fmt.Errorf("failed to send audio data: %w", sendFailure)
		}
		return nil, waitErr
	}
	if last == nil || !last.IsFinal {
		return nil, fmt.Errorf("ASR session ended without a final result")
	}

	resp := &speech.ASRResponse{
		SessionID: stream.SessionID(),
		RequestID: stream.SessionID(),
		CreatedAt: time.Now(),
	}
	resp.Text = text
	resp.Duration = last.Duration
	if resp.Text == "" {
		log.Printf("[ASR] empty transcript for session %s", resp.SessionID)
	}
	resp.Confidence = estimateASRConfidence(resp.Text)
	return resp, nil
}

func (c *VolcengineASRClient) sendChunks(ctx context.Context, stream *ASRStream, audio []byte) error {
	for i := 0; i < len(audio); i += asrChunkBytes {
		end := i + asrChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		if err := stream.SendAudio(audio[i:end]); err != nil {
			return err
		}
		if end >= len(audio) || c.interval <= 0 {
			continue
		}
		// 控制发送速率，模拟实时音频流
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return stream.CloseSend()
}

// ASRStream 是一条进行中的识别会话。SendAudio/CloseSend 可并发调用；
// Events 在最终结果或出错后关闭，Wait 返回结束原因。
type ASRStream struct {
	client    *VolcengineASRClient
	conn      *websocket.Conn
	sessionID string

	writeMu    sync.Mutex
	sequence   int32
	sendClosed bool

	events    chan *speech.StreamingASRChunk
	done      chan struct{}
	stop      chan struct{}
	err       error
	closeOnce sync.Once
	stopOnce  sync.Once
}

// SessionID 返回会话标识
func (s *ASRStream) SessionID() string {
	return s.sessionID
}

// Events 返回识别结果通道
func (s *ASRStream) Events() <-chan *speech.StreamingASRChunk {
	return s.events
}

// SendAudio 发送一包音频
func (s *ASRStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sendClosed {
		return ErrStreamClosed
	}
	if err := s.writeAudio(chunk, false); err != nil {
		return err
	}
	s.sequence++
	return nil
}

// CloseSend 发送负序号的空包，通知服务端音频结束
func (s *ASRStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.writeAudio(nil, true)
}

func (s *ASRStream) writeAudio(chunk []byte, last bool) error {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress audio chunk: %w", err)
	}
	msg := CreateAudioOnlyRequest(compressed, s.sequence, last, GzipCompression)
	return s.writeMessage(msg)
}

func (s *ASRStream) writeFullRequest(payload []byte) error {
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeMessage(CreateFullClientRequest(compressed, GzipCompression))
}

func (s *ASRStream) writeMessage(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	opts := s.client.pool.Options()
	s.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Wait 阻塞到会话结束，正常结束返回 nil
func (s *ASRStream) Wait() error {
	<-s.done
	return s.err
}

// Close 立即关闭连接；未结束的会话以 ErrStreamClosed 结束
func (s *ASRStream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
		s.client.pool.Release(s.sessionID, s.conn)
	})
	return nil
}

func (s *ASRStream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// finish 只由 readLoop 调用
func (s *ASRStream) finish(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.events)
		close(s.done)
	})
}

func (s *ASRStream) readLoop() {
	defer s.client.pool.Release(s.sessionID, s.conn)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				s.finish(ErrStreamClosed)
				return
			}
			s.client.errors.HandleConnectionError(s.sessionID, err)
			s.finish(fmt.Errorf("failed to read ASR response: %w", err))
			return
		}
		s.client.pool.ExtendRead(s.conn)

		chunk, final, err := s.decode(data)
		if err != nil {
			s.client.errors.HandleProtocolError(s.sessionID, err)
			s.finish(err)
			return
		}
		if chunk != nil {
			select {
			case s.events <- chunk:
			case <-s.stop:
				s.finish(ErrStreamClosed)
				return
			}
		}
		if final {
			s.finish(nil)
			return
		}
	}
}

// decode 解析一帧服务端消息；返回的 final 表示会话结束
func (s *ASRStream) decode(data []byte) (*speech.StreamingASRChunk, bool, error) {
	msg, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode ASR message: %w", err)
	}

	switch msg.Header.MessageType {
	case ErrorMessage:
		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return nil, false, fmt.Errorf("ASR error message decode failed: %w", err)
		}
		return nil, false, fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(payload))

	case FullServerResponse:
		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decompress ASR payload: %w", err)
		}

		var serverResp asrServerMessage
		if err := sonic.Unmarshal(payload, &serverResp); err != nil {
			s.client.errors.HandleMessageError(s.sessionID, err)
			return nil, msg.IsLastPacket(), nil
		}
		if serverResp.Code != 0 && serverResp.Code != asrSuccessCode {
			return nil, false, fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message)
		}

		final := msg.IsLastPacket() || serverResp.Sequence < 0
		text := serverResp.Result.Text
		if text == "" && len(serverResp.Result.Utterances) > 0 {
			text = joinUtterances(serverResp.Result.Utterances)
		}

		return &speech.StreamingASRChunk{
			SessionID: s.sessionID,
			Text:      text,
			Definite:  allDefinite(serverResp.Result.Utterances),
			IsFinal:   final,
			Duration:  serverResp.AudioInfo.Duration,
			CreatedAt: time.Now(),
		}, final, nil

	default:
		// 其他类型（如音频ACK）直接忽略
		return nil, false, nil
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func allDefinite(utterances []asrUtterance) bool {
	if len(utterances) == 0 {
		return false
	}
	for _, u := range utterances {
		if !u.Definite {
			return false
		}
	}
	return true
}

func estimateASRConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
