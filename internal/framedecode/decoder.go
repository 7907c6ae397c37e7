package framedecode

import (
	"context"
	"errors"

	"voucherscan/internal/camera"
)

// ErrNotFound reports that a frame contained no code. The scan loop treats it
// as a silent miss.
var ErrNotFound = errors.New("no code found in frame")

// ErrNoStream reports that the sink has nothing attached.
var ErrNoStream = errors.New("no capture stream attached")

// Decoder decodes one frame at a time from a sink.
type Decoder interface {
	DecodeOneFrame(ctx context.Context, sink camera.Sink) (string, error)
	Reset()
}
