package emotion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
	visionsvc "github.com/zhouzirui/habitat-kiosk/backend/internal/service/vision"
)

// Config 控制情绪识别服务的行为。
type Config struct {
	Enabled bool
}

// Service 使用多模态大模型识别画面中人物的情绪，失败时回退到视觉 sidecar。
type Service struct {
	enabled    bool
	classifier compose.Runnable[[]*schema.Message, *schema.Message]
	fallback   visionsvc.EmotionEstimator
}

// NewService 创建情绪识别服务。chatModel 为空或未启用时只使用 fallback。
func NewService(ctx context.Context, chatModel model.ChatModel, fallback visionsvc.EmotionEstimator, cfg Config) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: fallback,
	}
	if !svc.enabled {
		return svc, nil
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型识别是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// EstimateEmotion returns the facial emotion in frame. ok is false when no
// face is visible.
func (s *Service) EstimateEmotion(ctx context.Context, frame vision.Frame) (string, bool, error) {
	if !s.Enabled() {
		return s.estimateFallback(ctx, frame)
	}

	msg, err := s.classifier.Invoke(ctx, buildMessages(frame))
	if err != nil {
		log.Printf("[emotion] classifier invoke failed, use fallback: %v", err)
		return s.estimateFallback(ctx, frame)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.estimateFallback(ctx, frame)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[emotion] classifier output parse failed, use fallback: %v", err)
		return s.estimateFallback(ctx, frame)
	}

	raw := strings.ToLower(strings.TrimSpace(result.Emotion))
	if raw == "" || raw == "none" {
		return "", false, nil
	}
	label, ok := analysis.ParseLabel(raw)
	if !ok {
		return s.estimateFallback(ctx, frame)
	}
	return string(label), true, nil
}

func (s *Service) estimateFallback(ctx context.Context, frame vision.Frame) (string, bool, error) {
	if s == nil || s.fallback == nil {
		return "", false, fmt.Errorf("no emotion estimator available")
	}
	return s.fallback.EstimateEmotion(ctx, frame)
}

func buildMessages(frame vision.Frame) []*schema.Message {
	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(frame.Image)

	return []*schema.Message{
		schema.SystemMessage(emotionSystemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: emotionUserPrompt},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURL, Detail: schema.ImageURLDetailLow}},
			},
		},
	}
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float32 `json:"confidence"`
}

const emotionSystemPrompt = "You read the facial expression of the child or teacher in front of a museum kiosk camera.\n" +
	"Answer with one JSON object only: {\"emotion\": <label>, \"confidence\": <0..1>}.\n" +
	"label must be one of neutral, happy, sad, angry, fear, surprise, disgust, or none when no face is visible. No other text."

const emotionUserPrompt = "What is the dominant emotion of the person in this frame?"

var _ visionsvc.EmotionEstimator = (*Service)(nil)
