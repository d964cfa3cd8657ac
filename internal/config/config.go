package config

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Kiosk    KioskConfig
	Storage  StorageConfig
	Vision   VisionConfig
	Presence PresenceConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	kiosk, err := loadKioskConfig()
	if err != nil {
		return nil, err
	}

	vision, err := loadVisionConfig()
	if err != nil {
		return nil, err
	}

	presence, err := loadPresenceConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Kiosk:    kiosk,
		Storage:  loadStorageConfig(),
		Vision:   vision,
		Presence: presence,
		AI:       ai,
	}, nil
}

// ServerConfig 描述运维 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// 事件通道的两种传输方式
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// KioskConfig 描述会话节奏和事件通道。
type KioskConfig struct {
	Addr              string
	Transport         string
	PostAuthDelay     time.Duration
	GestureDelay      time.Duration
	AnimalCooldown    time.Duration
	RecognizerTimeout time.Duration
	AuthTimeout       time.Duration
	MinConfidence     float64
}

func loadKioskConfig() (KioskConfig, error) {
	transport := strings.ToLower(getEnvOrDefault("KIOSK_TRANSPORT", TransportTCP))
	if transport != TransportTCP && transport != TransportWebSocket {
		return KioskConfig{}, fmt.Errorf("invalid KIOSK_TRANSPORT value %q: want tcp or websocket", transport)
	}

	postAuth, err := parseDurationEnv("KIOSK_POST_AUTH_DELAY", 2*time.Second)
	if err != nil {
		return KioskConfig{}, err
	}
	gesture, err := parseDurationEnv("KIOSK_GESTURE_DELAY", 1500*time.Millisecond)
	if err != nil {
		return KioskConfig{}, err
	}
	cooldown, err := parseDurationEnv("KIOSK_ANIMAL_COOLDOWN", 500*time.Millisecond)
	if err != nil {
		return KioskConfig{}, err
	}
	// 0 表示一直等待识别结果
	recognizer, err := parseDurationEnv("KIOSK_RECOGNIZER_TIMEOUT", 0)
	if err != nil {
		return KioskConfig{}, err
	}
	auth, err := parseDurationEnv("KIOSK_AUTH_TIMEOUT", 0)
	if err != nil {
		return KioskConfig{}, err
	}

	confidence := 0.25
	if override, err := parseOptionalFloatEnv("KIOSK_DETECTION_CONFIDENCE"); err != nil {
		return KioskConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return KioskConfig{}, fmt.Errorf("invalid KIOSK_DETECTION_CONFIDENCE value %v: must be within [0, 1]", *override)
		}
		confidence = *override
	}

	return KioskConfig{
		Addr:              getEnvOrDefault("KIOSK_ADDR", "localhost:5000"),
		Transport:         transport,
		PostAuthDelay:     postAuth,
		GestureDelay:      gesture,
		AnimalCooldown:    cooldown,
		RecognizerTimeout: recognizer,
		AuthTimeout:       auth,
		MinConfidence:     confidence,
	}, nil
}

// StorageConfig 描述本地持久化文件的位置。
type StorageConfig struct {
	DBPath      string
	GazeLogPath string
	HeatmapPath string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DBPath:      getEnvOrDefault("DB_PATH", "./database.db"),
		GazeLogPath: getEnvOrDefault("GAZE_LOG_PATH", "gaze_coordinates.csv"),
		HeatmapPath: getEnvOrDefault("HEATMAP_PATH", "heatmap.png"),
	}
}

// VisionConfig 描述识别 sidecar 以及离线回放目录。
type VisionConfig struct {
	SidecarURL string
	Timeout    time.Duration
	FramesDir  string
}

func loadVisionConfig() (VisionConfig, error) {
	timeout, err := parseDurationEnv("VISION_TIMEOUT", 30*time.Second)
	if err != nil {
		return VisionConfig{}, err
	}
	return VisionConfig{
		SidecarURL: getEnvOrDefault("VISION_SIDECAR_URL", "http://127.0.0.1:8500"),
		Timeout:    timeout,
		FramesDir:  strings.TrimSpace(os.Getenv("FRAMES_DIR")),
	}, nil
}

// 蓝牙在线设备的来源
const (
	PresencePowerShell   = "powershell"
	PresenceBluetoothctl = "bluetoothctl"
	PresenceStatic       = "static"
)

// PresenceConfig 描述蓝牙设备在线检测方式。
type PresenceConfig struct {
	Source        string
	StaticDevices string
}

func loadPresenceConfig() (PresenceConfig, error) {
	source := strings.ToLower(getEnvOrDefault("PRESENCE_SOURCE", defaultPresenceSource()))
	switch source {
	case PresencePowerShell, PresenceBluetoothctl, PresenceStatic:
	default:
		return PresenceConfig{}, fmt.Errorf("invalid PRESENCE_SOURCE value %q", source)
	}
	return PresenceConfig{
		Source:        source,
		StaticDevices: strings.TrimSpace(os.Getenv("PRESENCE_STATIC_DEVICES")),
	}, nil
}

func defaultPresenceSource() string {
	if runtime.GOOS == "windows" {
		return PresencePowerShell
	}
	return PresenceBluetoothctl
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey            string
	AccessKey         string
	SecretKey         string
	Model             string
	BaseURL           string
	Region            string
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	EmotionLLMEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	// 情绪识别默认走 sidecar，显式打开后才调用视觉大模型
	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("Model")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		EmotionLLMEnabled: emotionEnabled,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按毫秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
