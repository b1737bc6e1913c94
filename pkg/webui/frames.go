package webui

import (
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/health"
)

// Frame types pushed to the browser.
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
	FrameHealth   = "health"
	FrameSettings = "settings"
	FrameError    = "error"
)

// Frame types the browser sends.
const (
	ClientSend          = "send"
	ClientSettings      = "settings"
	ClientCancel        = "cancel"
	ClientClear         = "clear"
	ClientHealthRefresh = "health_refresh"
)

// SettingsView is the settings state shown in the browser. The API key
// itself never leaves the process.
type SettingsView struct {
	Model            string   `json:"model"`
	Models           []string `json:"models"`
	DeveloperMessage string   `json:"developer_message"`
	APIKeySet        bool     `json:"api_key_set"`
	APIKeyMasked     string   `json:"api_key_masked,omitempty"`
}

func newSettingsView(s chat.Settings) *SettingsView {
	v := &SettingsView{
		Model:            s.Model,
		Models:           chat.Models,
		DeveloperMessage: s.DeveloperMessage,
		APIKeySet:        s.APIKey != "",
	}
	if v.APIKeySet {
		v.APIKeyMasked = s.MaskedAPIKey()
	}
	return v
}

// ServerFrame is one server to browser message. Clients drop event frames
// whose Seq is not above the last snapshot Seq.
type ServerFrame struct {
	Type     string            `json:"type"`
	Seq      uint64            `json:"seq,omitempty"`
	Kind     chat.EventKind    `json:"kind,omitempty"`
	Turn     *chat.Turn        `json:"turn,omitempty"`
	Delta    string            `json:"delta,omitempty"`
	Turns    []chat.Turn       `json:"turns,omitempty"`
	Health   *health.Indicator `json:"health,omitempty"`
	Settings *SettingsView     `json:"settings,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func eventFrame(ev chat.Event) ServerFrame {
	turn := ev.Turn
	f := ServerFrame{Type: FrameEvent, Seq: ev.Seq, Kind: ev.Kind, Delta: ev.Delta}
	if ev.Kind != chat.EventCleared {
		f.Turn = &turn
	}
	return f
}

// ClientFrame is one browser to server message. Settings fields left nil keep
// their current value.
type ClientFrame struct {
	Type             string  `json:"type"`
	Message          string  `json:"message,omitempty"`
	APIKey           *string `json:"api_key,omitempty"`
	Model            *string `json:"model,omitempty"`
	DeveloperMessage *string `json:"developer_message,omitempty"`
}

func (f ClientFrame) apply(s chat.Settings) chat.Settings {
	if f.APIKey != nil {
		s.APIKey = *f.APIKey
	}
	if f.Model != nil {
		s.Model = *f.Model
	}
	if f.DeveloperMessage != nil {
		s.DeveloperMessage = *f.DeveloperMessage
	}
	return s
}
