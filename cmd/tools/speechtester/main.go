package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tutor/backend/internal/config"
	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/service/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

// 每 200ms 一包 16kHz 16bit 单声道 PCM
const streamChunkBytes = 6400

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr、stream 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径 (stream 模式需为 16kHz PCM)")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voiceID := flag.String("voice", "", "TTS 声音 ID 或助手别名，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "stream" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr、-mode=stream 或 -mode=tts 指定测试模式")
	}

	svc := speech.NewService(&cfg.Speech, nil)
	defer svc.Cleanup()
	if !svc.Configured() {
		log.Fatal("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, svc, cfg, sessionID, *audioPath, *format, *language)
	case "stream":
		runStream(ctx, svc, cfg, sessionID, *audioPath, *language)
	case "tts":
		runTTS(ctx, svc, cfg, sessionID, *text, *voiceID, *format, *language, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, audioPath, format, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "pcm"
		}
	}

	if language == "" {
		language = cfg.Speech.ASRLanguage
	}

	req := &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
	}

	log.Printf("开始进行 ASR 测试: session=%s format=%s language=%s", sessionID, format, language)

	resp, err := svc.TranscribeAudio(ctx, req)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q confidence=%.2f duration=%dms", resp.Text, resp.Confidence, resp.Duration)
}

// runStream 模拟麦克风：按实时速率送入音频并打印中间结果
func runStream(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, audioPath, language string) {
	if audioPath == "" {
		log.Fatal("stream 模式需要通过 -audio 指定 PCM 文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	if language == "" {
		language = cfg.Tutor.Locale
	}

	capture := voice.NewCapture(voice.NewVolcengineRecognizer(svc), voice.Granted(true), language)
	listening, err := capture.Start(ctx, sessionID)
	if err != nil {
		log.Fatalf("启动识别失败: %v", err)
	}
	listening.Subscribe(func(partial string) {
		log.Printf("partial: %s", partial)
	})

	buf := make([]byte, streamChunkBytes)
	for {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if werr := listening.Write(buf[:n]); werr != nil {
				log.Fatalf("发送音频失败: %v", werr)
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			break
		}
	}
	if err := listening.Stop(); err != nil {
		log.Fatalf("结束音频失败: %v", err)
	}

	transcript, ok := <-listening.Result()
	switch {
	case !ok:
		log.Println("未识别到语音")
	case transcript.Err != nil:
		log.Fatalf("识别失败: %v", transcript.Err)
	default:
		log.Printf("最终结果: %q", transcript.Text)
	}
}

func runTTS(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, text, voiceID, format, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if voiceID == "" {
		voiceID = cfg.Speech.TTSVoice
	}
	voiceID = speech.NormalizeVoiceAlias(voiceID)

	if language == "" {
		language = cfg.Speech.TTSLanguage
	}

	if format == "" {
		format = "mp3"
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voiceID,
		Format:    format,
		Language:  language,
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s format=%s", sessionID, voiceID, format)

	resp, err := svc.SynthesizeSpeech(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, 时长=%dms", outputPath, resp.Duration)
}
