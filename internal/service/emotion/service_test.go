package emotion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

type fixedEstimator struct {
	label string
	calls int
}

func (f *fixedEstimator) EstimateEmotion(ctx context.Context, frame vision.Frame) (string, bool, error) {
	f.calls++
	return f.label, f.label != "", nil
}

func TestParseClassifierOutput(t *testing.T) {
	payload, err := parseClassifierOutput("sure! ```json\n{\"emotion\": \"Happy\", \"confidence\": 0.8}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Emotion != "Happy" || payload.Confidence != 0.8 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if _, err := parseClassifierOutput("no json here"); err == nil {
		t.Fatal("expected error without json object")
	}
}

func TestEstimateEmotionUsesModel(t *testing.T) {
	chat := &fakeChatModel{reply: `{"emotion": "Sad"}`}
	fallback := &fixedEstimator{label: "happy"}
	svc, err := NewService(context.Background(), chat, fallback, Config{Enabled: true})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if !svc.Enabled() {
		t.Fatal("expected llm estimator enabled")
	}

	label, ok, err := svc.EstimateEmotion(context.Background(), vision.Frame{Image: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})
	if err != nil || !ok || label != "sad" {
		t.Fatalf("expected sad, got %q ok=%v err=%v", label, ok, err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback must not run when the model answers")
	}

	if len(chat.input) != 2 || chat.input[1].Role != schema.User {
		t.Fatalf("unexpected prompt: %+v", chat.input)
	}
	parts := chat.input[1].MultiContent
	if len(parts) != 2 || parts[1].ImageURL == nil || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("frame must be attached as a data url, got %+v", parts)
	}
}

func TestEstimateEmotionNoFace(t *testing.T) {
	chat := &fakeChatModel{reply: `{"emotion": "none"}`}
	fallback := &fixedEstimator{label: "happy"}
	svc, _ := NewService(context.Background(), chat, fallback, Config{Enabled: true})

	if _, ok, err := svc.EstimateEmotion(context.Background(), vision.Frame{}); ok || err != nil {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
	if fallback.calls != 0 {
		t.Fatal("a confident miss must not trigger the fallback")
	}
}

func TestEstimateEmotionFallsBack(t *testing.T) {
	cases := []struct {
		name string
		chat *fakeChatModel
	}{
		{name: "model error", chat: &fakeChatModel{err: errors.New("quota exceeded")}},
		{name: "garbage output", chat: &fakeChatModel{reply: "I cannot help with that"}},
		{name: "unknown label", chat: &fakeChatModel{reply: `{"emotion": "bored"}`}},
	}

	for _, tc := range cases {
		fallback := &fixedEstimator{label: "neutral"}
		svc, err := NewService(context.Background(), tc.chat, fallback, Config{Enabled: true})
		if err != nil {
			t.Fatalf("%s: new service: %v", tc.name, err)
		}
		label, ok, err := svc.EstimateEmotion(context.Background(), vision.Frame{})
		if err != nil || !ok || label != "neutral" {
			t.Fatalf("%s: expected fallback neutral, got %q ok=%v err=%v", tc.name, label, ok, err)
		}
		if fallback.calls != 1 {
			t.Fatalf("%s: expected one fallback call, got %d", tc.name, fallback.calls)
		}
	}
}

func TestDisabledServiceUsesFallbackOnly(t *testing.T) {
	fallback := &fixedEstimator{label: "angry"}
	svc, err := NewService(context.Background(), nil, fallback, Config{Enabled: true})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("service without a model must not report enabled")
	}
	label, ok, err := svc.EstimateEmotion(context.Background(), vision.Frame{})
	if err != nil || !ok || label != "angry" {
		t.Fatalf("unexpected result %q ok=%v err=%v", label, ok, err)
	}

	if _, _, err := (&Service{}).EstimateEmotion(context.Background(), vision.Frame{}); err == nil {
		t.Fatal("expected error without any estimator")
	}
}
