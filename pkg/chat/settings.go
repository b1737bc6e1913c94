package chat

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SettingsSlug = "chat"

	DefaultModel            = "gpt-4.1-mini"
	DefaultDeveloperMessage = "You are a helpful AI assistant."
)

// Models lists the model identifiers the settings surface offers.
var Models = []string{
	"gpt-4.1-mini",
	"gpt-4",
	"gpt-3.5-turbo",
}

// Settings are the user-provided request parameters. They live in memory for
// the lifetime of the process.
type Settings struct {
	APIKey           string `glazed:"api-key"`
	Model            string `glazed:"model"`
	DeveloperMessage string `glazed:"developer-message"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:            DefaultModel,
		DeveloperMessage: DefaultDeveloperMessage,
	}
}

// NewSettingsSection returns the glazed section for the chat settings surface.
func NewSettingsSection() (schema.Section, error) {
	return schema.NewSection(
		SettingsSlug,
		"Chat settings",
		schema.WithFields(
			fields.New("api-key", fields.TypeString,
				fields.WithHelp("API key sent in the completion request body"),
				fields.WithDefault("")),
			fields.New("model", fields.TypeChoice,
				fields.WithHelp("Model used for completions"),
				fields.WithChoices(Models...),
				fields.WithDefault(DefaultModel)),
			fields.New("developer-message", fields.TypeString,
				fields.WithHelp("Developer (system) message that frames the assistant"),
				fields.WithDefault(DefaultDeveloperMessage)),
		),
	)
}

func IsKnownModel(model string) bool {
	for _, m := range Models {
		if m == model {
			return true
		}
	}
	return false
}

// Validate checks that a message can be sent with these settings.
func (s Settings) Validate(message string) error {
	if strings.TrimSpace(s.APIKey) == "" {
		return &ValidationError{Field: "api-key", Message: "Please enter your OpenAI API key in the settings."}
	}
	if strings.TrimSpace(message) == "" {
		return &ValidationError{Field: "message", Message: "Message is empty."}
	}
	if !IsKnownModel(s.Model) {
		return &ValidationError{Field: "model", Message: "Unknown model: " + s.Model}
	}
	return nil
}

// MaskedAPIKey is safe to log.
func (s Settings) MaskedAPIKey() string {
	k := strings.TrimSpace(s.APIKey)
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:3] + "..." + k[len(k)-4:]
}

// CompletionRequest is the JSON body of POST {base}/chat.
type CompletionRequest struct {
	DeveloperMessage string `json:"developer_message"`
	UserMessage      string `json:"user_message"`
	Model            string `json:"model"`
	APIKey           string `json:"api_key"`
}

func (s Settings) BuildRequest(message string) CompletionRequest {
	return CompletionRequest{
		DeveloperMessage: s.DeveloperMessage,
		UserMessage:      message,
		Model:            s.Model,
		APIKey:           s.APIKey,
	}
}
