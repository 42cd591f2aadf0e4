package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tutor/backend/internal/config"
	"github.com/zhouzirui/z-tutor/backend/internal/handler"
	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	"github.com/zhouzirui/z-tutor/backend/internal/service/chat"
	"github.com/zhouzirui/z-tutor/backend/internal/service/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	profiles := assistant.Seed()
	if cfg.Tutor.AssistantsFile != "" {
		profiles, err = assistant.LoadFile(cfg.Tutor.AssistantsFile, profiles)
		if err != nil {
			log.Fatalf("failed to load assistants: %v", err)
		}
	}
	assistants := assistant.NewMemoryStore(profiles)

	sessionStore, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer sessionStore.Close()

	completer := newCompleter(ctx, cfg.AI)
	controller := chat.NewController(sessionStore, completer, assistants, chat.Options{
		Threads: ai.NewThreadProvider(cfg.AI.OpenAI),
	})

	speechService := speech.NewService(&cfg.Speech, nil)
	defer speechService.Cleanup()
	if speechService.Configured() {
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，语音识别与合成不可用")
	}

	router := handler.NewRouter(handler.Deps{
		Assistants: assistants,
		Controller: controller,
		Speech:     speechService,
		Locale:     cfg.Tutor.Locale,
	})

	startServer(ctx, cfg.Server, router)
}

// newCompleter 选择补全后端。Ark 初始化失败时退回 OpenAI 兼容接口。
func newCompleter(ctx context.Context, cfg config.AIConfig) ai.Completer {
	if cfg.Provider == config.ProviderArk {
		chatModel, err := cfg.NewChatModel(ctx)
		if err == nil {
			var client *ai.ArkClient
			client, err = ai.NewArkClient(ctx, chatModel)
			if err == nil {
				log.Printf("AI provider: ark model=%s", cfg.ArkModel)
				return client
			}
		}
		log.Printf("warning: failed to initialize Ark completion: %v", err)
		log.Println("falling back to OpenAI compatible completion")
	}

	if cfg.OpenAI.APIKey == "" {
		log.Println("OPENAI_API_KEY 未配置，对话请求将返回未授权错误")
	}
	log.Printf("AI provider: openai model=%s", cfg.OpenAI.Model)
	return ai.NewOpenAIClient(cfg.OpenAI)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Tutor backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
