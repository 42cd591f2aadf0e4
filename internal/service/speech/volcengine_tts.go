package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// DefaultTTSURL 单向流式合成端点
const DefaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

const (
	ttsSampleRate = 24000
	// 3000 为合成成功
	ttsCodeOK = 3000
)

// errResourceMismatch 音色与资源 ID 不匹配，换下一个组合重试
var errResourceMismatch = errors.New("tts resource mismatched with speaker")

// VolcengineTTSClient 火山引擎单向流式 TTS 客户端
type VolcengineTTSClient struct {
	config *speech.SpeechConfig
	pool   *ConnectionPool
	errors *ErrorHandler
	url    string
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speech.SpeechConfig, pool *ConnectionPool, errorHandler *ErrorHandler) *VolcengineTTSClient {
	url := strings.TrimSpace(config.TTSURL)
	if url == "" {
		url = DefaultTTSURL
	}
	return &VolcengineTTSClient{config: config, pool: pool, errors: errorHandler, url: url}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// Synthesize 合成整段文本。资源不匹配时按 planTTSAttempts 的顺序换音色或资源重试。
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	fallback := strings.TrimSpace(c.config.TTSVoice)
	if fallback == "" {
		fallback = DefaultVoice
	}

	var lastErr error
	for i, attempt := range planTTSAttempts(req.Voice, fallback) {
		resp, err := c.synthesizeOnce(ctx, req, appKey, accessKey, attempt)
		if err == nil {
			if i > 0 {
				log.Printf("[TTS] succeeded with speaker=%s resource=%s", attempt.speaker, attempt.resource)
			}
			return resp, nil
		}
		if !errors.Is(err, errResourceMismatch) {
			return nil, err
		}
		log.Printf("[TTS] speaker=%s resource=%s mismatch, trying next", attempt.speaker, attempt.resource)
		lastErr = err
	}
	return nil, fmt.Errorf("TTS synthesis failed for every voice candidate: %w", lastErr)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speech.TTSRequest, appKey, accessKey string, attempt ttsAttempt) (*speech.TTSResponse, error) {
	connectID := uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", attempt.resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.pool.ConnectWithRetry(ctx, c.url, header, connectID)
	if err != nil {
		c.errors.HandleConnectionError(connectID, err)
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer c.pool.Release(connectID, conn)
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected with logid: %s", logid)
		}
	}

	body := c.buildRequest(req, attempt.speaker)
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	// 上下文取消时关闭连接以打断阻塞的读
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	collector := &ttsCollector{connectID: connectID, errors: c.errors}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}
		c.pool.ExtendRead(conn)

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}
		done, err := collector.consume(msg)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	if collector.audio.Len() == 0 {
		return nil, fmt.Errorf("TTS audio is empty")
	}
	requestID := collector.reqID
	if requestID == "" {
		requestID = connectID
	}
	return &speech.TTSResponse{
		SessionID: body.User.UID,
		AudioData: collector.audio.Bytes(),
		Duration:  collector.duration,
		Format:    body.ReqParams.AudioParams.Format,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}, nil
}

// ttsCollector 拼接音频分片并记录服务端元数据
type ttsCollector struct {
	connectID string
	errors    *ErrorHandler

	audio    bytes.Buffer
	reqID    string
	duration int64
}

// consume 处理一帧，返回是否已到最后一包
func (t *ttsCollector) consume(msg *Message) (bool, error) {
	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		return false, fmt.Errorf("failed to decompress TTS payload: %w", err)
	}

	switch msg.Header.MessageType {
	case ErrorMessage:
		if isResourceMismatch(string(payload)) {
			return false, fmt.Errorf("%w: %s", errResourceMismatch, payload)
		}
		return false, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, payload)

	case AudioOnlyServerResponse:
		t.audio.Write(payload)
		return msg.IsLastPacket(), nil

	case FullServerResponse:
		var body ttsServerMessage
		if len(payload) > 0 {
			if err := sonic.Unmarshal(payload, &body); err != nil {
				t.errors.HandleMessageError(t.connectID, err)
			} else if err := t.apply(&body); err != nil {
				return false, err
			}
		}
		finished := msg.Header.MessageFlags&WithEvent == WithEvent && msg.EventType == EventTypeSessionFinished
		return finished || msg.IsLastPacket() || body.Sequence < 0, nil

	default:
		log.Printf("[TTS] unexpected message type: %d", msg.Header.MessageType)
		return false, nil
	}
}

func (t *ttsCollector) apply(body *ttsServerMessage) error {
	if body.Code != 0 && body.Code != ttsCodeOK {
		if isResourceMismatch(body.Message) {
			return fmt.Errorf("%w: %s", errResourceMismatch, body.Message)
		}
		return fmt.Errorf("TTS API error %d: %s", body.Code, body.Message)
	}
	if body.ReqID != "" {
		t.reqID = body.ReqID
	}
	if body.Addition.Duration != "" {
		if ms, err := strconv.ParseInt(body.Addition.Duration, 10, 64); err == nil {
			t.duration = ms
		}
	}
	if body.Data != "" {
		chunk, err := decodeBase64Audio(body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode base64 audio chunk: %w", err)
		}
		t.audio.Write(chunk)
	}
	return nil
}

// buildRequest 组装合成参数，未指定的语速、音量与语言取配置值
func (c *VolcengineTTSClient) buildRequest(req *speech.TTSRequest, speaker string) *ttsRequest {
	body := &ttsRequest{}

	body.User.UID = strings.TrimSpace(req.SessionID)
	if body.User.UID == "" {
		body.User.UID = uuid.New().String()
	}

	body.ReqParams.Speaker = speaker
	body.ReqParams.Text = req.Text
	body.ReqParams.Additions = `{"disable_markdown_filter":false}`

	// 单向流式接口不输出 wav
	format := strings.TrimSpace(req.Format)
	if format == "" || format == "wav" {
		format = "mp3"
	}
	body.ReqParams.AudioParams = ttsAudioParams{
		Format:          format,
		SampleRate:      ttsSampleRate,
		EnableTimestamp: true,
		SpeedRatio:      ratioOrDefault(req.Speed, c.config.TTSSpeed),
		VolumeRatio:     ratioOrDefault(req.Volume, c.config.TTSVolume),
	}

	body.ReqParams.Language = strings.TrimSpace(req.Language)
	if body.ReqParams.Language == "" {
		body.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	}
	return body
}

// ratioOrDefault 1.0 与未设置都不下发
func ratioOrDefault(requested, configured float32) float32 {
	v := requested
	if v <= 0 {
		v = configured
	}
	if v <= 0 || v == 1.0 {
		return 0
	}
	return v
}

func isResourceMismatch(text string) bool {
	return strings.Contains(text, "resource ID is mismatched with speaker related resource")
}

func decodeBase64Audio(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
