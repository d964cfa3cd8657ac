package session

import (
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
)

// Phase is the lifecycle position of the single kiosk session.
type Phase string

const (
	PhaseAuthenticating Phase = "authenticating"
	PhaseStreaming      Phase = "streaming"
	PhaseClosing        Phase = "closing"
	PhaseClosed         Phase = "closed"
)

// Summary is persisted once per Kid session at close.
type Summary struct {
	UserID          int64         `json:"userId"`
	DominantEmotion emotion.Label `json:"dominantEmotion"`
}

// Snapshot captures the externally visible session state for the ops API.
type Snapshot struct {
	ID               string    `json:"id"`
	Phase            Phase     `json:"phase"`
	Role             user.Role `json:"role"`
	UserID           int64     `json:"userId,omitempty"`
	Username         string    `json:"username,omitempty"`
	RemoteAddr       string    `json:"remoteAddr,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	BufferedEmotions int       `json:"bufferedEmotions"`
}
