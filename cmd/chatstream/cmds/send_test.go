package cmds

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/stream"
	"github.com/go-go-golems/chatstream/pkg/tokens"
)

func sampleTranscript() Transcript {
	user := chat.NewUserTurn("hi")
	reply := chat.NewAssistantPlaceholder()
	reply.Content = "Error: HTTP error! status: 500"
	reply.Status = chat.TurnFailed
	reply.Error = "HTTP error! status: 500"
	return Transcript{
		Model: "gpt-4",
		State: stream.StateFailed,
		Error: "HTTP error! status: 500",
		Turns: []chat.Turn{user, reply},
		Usage: &tokens.Usage{Model: "gpt-4", Encoding: "cl100k_base", Prompt: 9, Reply: 8},
	}
}

func TestWriteTranscript_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTranscript(&buf, "json", sampleTranscript()))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "failed", got["state"])
	require.Len(t, got["turns"], 2)
	usage := got["usage"].(map[string]interface{})
	require.Equal(t, float64(8), usage["reply_tokens"])
}

func TestWriteTranscript_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTranscript(&buf, "yaml", sampleTranscript()))

	var got struct {
		Model string      `yaml:"model"`
		State string      `yaml:"state"`
		Turns []chat.Turn `yaml:"turns"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "gpt-4", got.Model)
	require.Equal(t, "failed", got.State)
	require.Len(t, got.Turns, 2)
	require.Equal(t, chat.RoleAssistant, got.Turns[1].Role)
	require.Equal(t, chat.TurnFailed, got.Turns[1].Status)
}

func TestCommandDescriptions(t *testing.T) {
	send, err := NewSendCommand()
	require.NoError(t, err)
	require.Equal(t, "send", send.Name)

	health, err := NewHealthCommand()
	require.NoError(t, err)
	require.Equal(t, "health", health.Name)

	chatCmd, err := NewChatCommand()
	require.NoError(t, err)
	require.Equal(t, "chat", chatCmd.Name)

	serve, err := NewServeCommand()
	require.NoError(t, err)
	require.Equal(t, "serve", serve.Name)

	count, err := NewCountTokensCommand()
	require.NoError(t, err)
	require.Equal(t, "count-tokens", count.Name)
}
