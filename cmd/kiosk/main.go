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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/config"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/handler"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/auth"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/capture"
	emotionservice "github.com/zhouzirui/habitat-kiosk/backend/internal/service/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/fusion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/presence"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/service/session"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/storage/gazelog"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/storage/sqlite"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	sidecar := visionsvc.NewClient(visionsvc.Config{BaseURL: cfg.Vision.SidecarURL, Timeout: cfg.Vision.Timeout})

	var frames visionsvc.FrameSource = sidecar
	if cfg.Vision.FramesDir != "" {
		dir, err := capture.NewDirSource(cfg.Vision.FramesDir)
		if err != nil {
			log.Fatalf("failed to open frames directory: %v", err)
		}
		log.Printf("[vision] replaying %d frames from %s", dir.Len(), cfg.Vision.FramesDir)
		frames = dir
	}

	emotions := newEmotionEstimator(ctx, cfg.AI, sidecar)

	devices, err := newPresenceSource(cfg.Presence)
	if err != nil {
		log.Fatalf("failed to configure presence source: %v", err)
	}

	listener, events, err := newListener(cfg)
	if err != nil {
		log.Fatalf("failed to listen for the presentation client: %v", err)
	}

	runner := session.NewRunner(session.Deps{
		Listener: listener,
		Frames:   frames,
		Faces:    sidecar,
		Recognizers: visionsvc.Recognizers{
			Gaze:     sidecar,
			Hands:    sidecar,
			Gestures: sidecar,
			Objects:  sidecar,
			Emotions: emotions,
		},
		Presence:  devices,
		Directory: store,
		Gaze:      gazelog.New(cfg.Storage.GazeLogPath),
	}, session.Config{
		PostAuthDelay: cfg.Kiosk.PostAuthDelay,
		HeatmapPath:   cfg.Storage.HeatmapPath,
		Auth: auth.Config{
			Timeout:           cfg.Kiosk.AuthTimeout,
			RecognizerTimeout: cfg.Kiosk.RecognizerTimeout,
		},
		Fusion: fusion.Config{
			GestureDelay:      cfg.Kiosk.GestureDelay,
			AnimalCooldown:    cfg.Kiosk.AnimalCooldown,
			RecognizerTimeout: cfg.Kiosk.RecognizerTimeout,
			MinConfidence:     cfg.Kiosk.MinConfidence,
		},
	})

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		log.Printf("[session] waiting for the presentation client on %s (%s)", listener.Addr(), cfg.Kiosk.Transport)
		out, err := runner.Run(ctx)
		if err != nil {
			log.Printf("[session] %s ended before streaming: %v", out.ID, err)
			return
		}
		log.Printf("[session] %s finished for %s, ops API stays up until shutdown", out.ID, out.Identity.Name)
	}()

	router := handler.NewRouter(handler.Options{
		Session: runner,
		Reports: store,
		Events:  events,
	})

	startServer(ctx, cfg.Server, router)
	stop()

	// 等待会话收尾，持久化不受退出信号影响
	<-sessionDone
}

func newEmotionEstimator(ctx context.Context, aiCfg config.AIConfig, fallback visionsvc.EmotionEstimator) visionsvc.EmotionEstimator {
	var chatModel model.ChatModel
	if aiCfg.EmotionLLMEnabled {
		if aiCfg.Enabled() {
			cm, err := aiCfg.NewChatModel(ctx)
			if err != nil {
				log.Printf("warning: failed to initialize Ark chat model: %v", err)
			} else {
				chatModel = cm
			}
		} else {
			log.Println("Ark 凭证未配置，情绪识别使用视觉 sidecar")
		}
	}

	svc, err := emotionservice.NewService(ctx, chatModel, fallback, emotionservice.Config{Enabled: aiCfg.EmotionLLMEnabled})
	if err != nil {
		log.Printf("warning: failed to initialize emotion service: %v", err)
		return fallback
	}
	if svc.Enabled() {
		log.Println("Emotion estimation via vision LLM enabled")
	}
	return svc
}

func newPresenceSource(cfg config.PresenceConfig) (presence.Source, error) {
	switch cfg.Source {
	case config.PresencePowerShell:
		return presence.NewPowerShellSource(), nil
	case config.PresenceBluetoothctl:
		return presence.NewBluetoothctlSource(), nil
	case config.PresenceStatic:
		devices := presence.ParseStatic(cfg.StaticDevices)
		log.Printf("[presence] using %d static devices", len(devices))
		return presence.StaticSource{Devices: devices}, nil
	default:
		return nil, errors.New("unknown presence source " + cfg.Source)
	}
}

// newListener returns the session listener and, for the websocket transport,
// the handler to mount on the ops router.
func newListener(cfg *config.Config) (transport.Listener, http.Handler, error) {
	if cfg.Kiosk.Transport == config.TransportWebSocket {
		ws := transport.NewWebSocketListener(cfg.Server.Addr)
		return ws, ws, nil
	}
	tcp, err := transport.ListenTCP(cfg.Kiosk.Addr)
	if err != nil {
		return nil, nil, err
	}
	return tcp, nil, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("[ops] habitat kiosk ops API listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("[ops] server error: %v", err)
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
