package stream

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const replacementChar = "�"

// Decoder turns a chunked byte stream into text. An incomplete trailing byte
// sequence is carried over to the next chunk; Flush decodes whatever is left
// with replacement characters.
type Decoder struct {
	name  string
	t     transform.Transformer
	carry []byte
}

// NewDecoder returns a decoder for enc, or UTF-8 when enc is nil.
func NewDecoder(enc encoding.Encoding) *Decoder {
	name := "utf-8"
	if enc == nil {
		enc = unicode.UTF8
	} else if n, err := htmlindex.Name(enc); err == nil {
		name = n
	}
	return &Decoder{name: name, t: enc.NewDecoder()}
}

// DecoderForContentType picks the decoder matching the charset parameter of a
// Content-Type header. Unknown or missing charsets fall back to UTF-8.
func DecoderForContentType(contentType string) *Decoder {
	if contentType == "" {
		return NewDecoder(nil)
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return NewDecoder(nil)
	}
	charset := strings.TrimSpace(params["charset"])
	if charset == "" {
		return NewDecoder(nil)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		log.Debug().Str("component", "stream").Str("charset", charset).Msg("unknown charset, decoding as utf-8")
		return NewDecoder(nil)
	}
	return NewDecoder(enc)
}

func (d *Decoder) Name() string {
	return d.name
}

// Pending is the number of carried-over bytes waiting for the next chunk.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

// Decode consumes chunk and returns the text that is complete so far.
func (d *Decoder) Decode(chunk []byte) string {
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
		d.carry = nil
	}
	return d.run(src, false)
}

// Flush decodes the carried-over bytes at end of stream and resets the decoder.
func (d *Decoder) Flush() string {
	src := d.carry
	d.carry = nil
	out := d.run(src, true)
	d.t.Reset()
	return out
}

func (d *Decoder) run(src []byte, atEOF bool) string {
	if len(src) == 0 && !atEOF {
		return ""
	}
	var out []byte
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch err {
		case nil:
			return string(out)
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case transform.ErrShortSrc:
			if !atEOF {
				d.carry = append([]byte(nil), src...)
				return string(out)
			}
			// a decoder that still wants input at EOF gets one replacement for the rest
			return string(out) + replacementChar
		default:
			// replacement decoders should not fail; skip one byte and keep going
			out = append(out, replacementChar...)
			if len(src) == 0 {
				return string(out)
			}
			src = src[1:]
		}
	}
}
