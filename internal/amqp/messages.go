package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TargetSheets asks the worker to publish the report to Google Sheets
// instead of writing a file.
const TargetSheets = "sheets"

// Ledger entities and actions carried by LedgerEvent.
const (
	EntityCategory    = "category"
	EntityOperation   = "operation"
	EntityProfile     = "profile"
	EntitySavedReport = "saved_report"

	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

var ErrInvalidMessage = errors.New("invalid message")

// ExportRequestMessage asks the worker to build a report and deliver it.
// The report is recomputed from storage when the message is handled.
type ExportRequestMessage struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	Kind        string    `json:"kind"`
	Year        int       `json:"year,omitempty"`
	Month       int       `json:"month,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	CategoryIDs []int64   `json:"categories,omitempty"`
	Format      string    `json:"format"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewExportRequestMessage creates a request with a fresh ID. An empty format
// means Google Sheets.
func NewExportRequestMessage(userID int64, kind, format string) *ExportRequestMessage {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = TargetSheets
	}
	return &ExportRequestMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Format:      format,
		RequestedAt: time.Now(),
	}
}

func (m *ExportRequestMessage) Validate() error {
	if m.UserID <= 0 || m.Kind == "" || m.Format == "" {
		return ErrInvalidMessage
	}
	return nil
}

func (m *ExportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExportRequestMessageFromJSON(data []byte) (*ExportRequestMessage, error) {
	var msg ExportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// LedgerEvent announces a change to a user's ledger. Consumers use it to drop
// cached reports and refresh published ones.
type LedgerEvent struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Entity    string    `json:"entity"`
	EntityID  int64     `json:"entity_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(userID int64, entity string, entityID int64, action string) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Timestamp: time.Now(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
