package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

// Config describes how to reach the inference sidecar that hosts the camera
// and the recognition models.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks JSON over HTTP to the inference sidecar. It implements every
// recognizer interface and FrameSource.
type Client struct {
	baseURL string
	http    *http.Client
	seq     atomic.Uint64
}

// NewClient returns a sidecar client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Next captures one frame from the sidecar camera. A 204 or 410 response
// means the camera stream ended.
func (c *Client) Next(ctx context.Context) (vision.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capture", nil)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("build capture request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("capture frame: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusGone:
		return vision.Frame{}, io.EOF
	default:
		return vision.Frame{}, statusError("capture", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return vision.Frame{}, io.EOF
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return vision.Frame{
		Seq:        c.seq.Add(1),
		Image:      data,
		MIMEType:   mimeType,
		CapturedAt: time.Now().UTC(),
	}, nil
}

type identifyResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// Identify resolves the face in frame against the enrolled encodings.
func (c *Client) Identify(ctx context.Context, frame vision.Frame) (vision.Identification, error) {
	var out identifyResponse
	if err := c.postFrame(ctx, "/identify", frame, &out); err != nil {
		return vision.Identification{}, err
	}

	switch vision.IdentityStatus(out.Status) {
	case vision.Recognized:
		if strings.TrimSpace(out.Name) == "" {
			return vision.Identification{Status: vision.Unresolved}, nil
		}
		return vision.Identification{Status: vision.Recognized, Name: strings.TrimSpace(out.Name)}, nil
	case vision.NoFace:
		return vision.Identification{Status: vision.NoFace}, nil
	default:
		return vision.Identification{Status: vision.Unresolved}, nil
	}
}

type gazeResponse struct {
	Direction  string    `json:"direction"`
	LeftPupil  []float64 `json:"left_pupil"`
	RightPupil []float64 `json:"right_pupil"`
}

// Estimate runs gaze tracking on frame.
func (c *Client) Estimate(ctx context.Context, frame vision.Frame) (vision.GazeReading, error) {
	var out gazeResponse
	if err := c.postFrame(ctx, "/gaze", frame, &out); err != nil {
		return vision.GazeReading{}, err
	}
	return vision.GazeReading{
		Direction:  vision.ParseDirection(out.Direction),
		LeftPupil:  toPoint(out.LeftPupil),
		RightPupil: toPoint(out.RightPupil),
	}, nil
}

func toPoint(coords []float64) *vision.Point {
	if len(coords) != 2 {
		return nil
	}
	return &vision.Point{X: coords[0], Y: coords[1]}
}

type handsResponse struct {
	Hands []vision.HandLandmarks `json:"hands"`
}

// Detect returns the hand landmarks found in frame.
func (c *Client) Detect(ctx context.Context, frame vision.Frame) ([]vision.HandLandmarks, error) {
	var out handsResponse
	if err := c.postFrame(ctx, "/hands", frame, &out); err != nil {
		return nil, err
	}
	hands := out.Hands[:0]
	for _, h := range out.Hands {
		if len(h.Landmarks) > 0 {
			hands = append(hands, h)
		}
	}
	return hands, nil
}

type gestureRequest struct {
	Features []float64 `json:"features"`
}

type gestureResponse struct {
	Class *int `json:"class"`
}

// Classify runs the gesture classifier on a landmark feature vector.
func (c *Client) Classify(ctx context.Context, features []float64) (int, bool, error) {
	var out gestureResponse
	if err := c.postJSON(ctx, "/gesture", gestureRequest{Features: features}, &out); err != nil {
		return 0, false, err
	}
	if out.Class == nil {
		return 0, false, nil
	}
	return *out.Class, true, nil
}

type detectResponse struct {
	Detections []struct {
		Label      string  `json:"label"`
		BBox       []int   `json:"bbox"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// DetectObjects runs the object detector on frame.
func (c *Client) DetectObjects(ctx context.Context, frame vision.Frame) ([]vision.Detection, error) {
	var out detectResponse
	if err := c.postFrame(ctx, "/detect", frame, &out); err != nil {
		return nil, err
	}

	detections := make([]vision.Detection, 0, len(out.Detections))
	for _, d := range out.Detections {
		det := vision.Detection{Label: d.Label, Confidence: d.Confidence}
		if len(d.BBox) == 4 {
			det.BBox = vision.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		}
		detections = append(detections, det)
	}
	return detections, nil
}

type emotionResponse struct {
	Emotion string `json:"emotion"`
}

// EstimateEmotion returns the dominant facial emotion reported by the sidecar.
func (c *Client) EstimateEmotion(ctx context.Context, frame vision.Frame) (string, bool, error) {
	var out emotionResponse
	if err := c.postFrame(ctx, "/emotion", frame, &out); err != nil {
		return "", false, err
	}
	label := strings.TrimSpace(out.Emotion)
	return label, label != "", nil
}

func (c *Client) postFrame(ctx context.Context, path string, frame vision.Frame, out any) error {
	contentType := frame.MIMEType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(frame.Image))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("sidecar %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
}

var (
	_ FrameSource       = (*Client)(nil)
	_ FaceResolver      = (*Client)(nil)
	_ GazeEstimator     = (*Client)(nil)
	_ HandDetector      = (*Client)(nil)
	_ GestureClassifier = (*Client)(nil)
	_ ObjectDetector    = (*Client)(nil)
	_ EmotionEstimator  = (*Client)(nil)
)
