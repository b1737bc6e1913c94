package stream

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

const DefaultBufferSize = 4096

// Sink receives decoded text deltas in receipt order.
type Sink func(delta string) error

type Stats struct {
	Chunks int `json:"chunks" yaml:"chunks"`
	Bytes  int `json:"bytes" yaml:"bytes"`
	Deltas int `json:"deltas" yaml:"deltas"`
}

// Consume reads r until EOF, decoding incrementally and handing every
// non-empty delta to sink. Once ctx is done no more deltas are delivered and
// ctx.Err() is returned. Read failures come back as *chat.StreamError.
func Consume(ctx context.Context, r io.Reader, dec *Decoder, sink Sink, bufferSize int) (Stats, error) {
	var stats Stats
	if dec == nil {
		dec = NewDecoder(nil)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	buf := make([]byte, bufferSize)

	deliver := func(delta string) error {
		if delta == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink(delta); err != nil {
			return errors.Wrap(err, "deliver delta")
		}
		stats.Deltas++
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			stats.Chunks++
			stats.Bytes += n
			if err := deliver(dec.Decode(buf[:n])); err != nil {
				return stats, err
			}
		}
		if rerr == io.EOF {
			return stats, deliver(dec.Flush())
		}
		if rerr != nil {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			return stats, &chat.StreamError{Err: rerr}
		}
	}
}
