package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session represents one conversational session for a principal. Sessions are
// low-volume and written rarely; they are authoritative in the cold tier and
// never duplicated to hot.
type Session struct {
	ID            string     `json:"id"` // Unique identifier (format: sess:<uuid>)
	Principal     string     `json:"principal"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ExchangeCount int        `json:"exchange_count"`
}

// GenerateSessionID returns a new unique session identifier.
func GenerateSessionID() string {
	return fmt.Sprintf("sess:%s", uuid.NewString())
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Exchange is one user/assistant turn pair within a session. Exchanges feed
// the extraction pipeline; they are stored for bounded-lookback context only.
type Exchange struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Principal string    `json:"principal"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerateExchangeID returns a new unique exchange identifier.
func GenerateExchangeID() string {
	return fmt.Sprintf("exch:%s", uuid.NewString())
}
