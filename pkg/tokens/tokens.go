// Package tokens counts model tokens for chat turns.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecsMu sync.Mutex
	codecs   = map[tokenizer.Encoding]tokenizer.Codec{}
)

// EncodingForModel picks the BPE encoding a chat model uses.
func EncodingForModel(model string) tokenizer.Encoding {
	switch {
	case strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

func codecFor(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if c, ok := codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, errors.Wrapf(err, "load codec %s", enc)
	}
	codecs[enc] = c
	return c, nil
}

// Count returns the number of tokens text encodes to for model.
func Count(model, text string) (int, error) {
	codec, err := codecFor(EncodingForModel(model))
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode text")
	}
	return len(ids), nil
}

// Usage is the token count of one exchange.
type Usage struct {
	Model    string `json:"model" yaml:"model"`
	Encoding string `json:"encoding" yaml:"encoding"`
	Prompt   int    `json:"prompt_tokens" yaml:"prompt_tokens"`
	Reply    int    `json:"reply_tokens" yaml:"reply_tokens"`
}

func (u Usage) Total() int {
	return u.Prompt + u.Reply
}

// Measure counts the developer message plus user message as prompt, and the
// reply separately.
func Measure(model, developerMessage, userMessage, reply string) (Usage, error) {
	u := Usage{Model: model, Encoding: string(EncodingForModel(model))}
	var err error
	if u.Prompt, err = Count(model, developerMessage+"\n"+userMessage); err != nil {
		return u, err
	}
	if u.Reply, err = Count(model, reply); err != nil {
		return u, err
	}
	return u, nil
}
