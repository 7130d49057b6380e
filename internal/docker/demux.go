package docker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	units "github.com/docker/go-units"
)

const frameHeaderSize = 8

// StreamType is the channel tag carried in byte 0 of a frame header.
type StreamType byte

const (
	Stdin  StreamType = 0
	Stdout StreamType = 1
	Stderr StreamType = 2
)

func (t StreamType) String() string {
	switch t {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Frame is one unit of the attach stream.
type Frame struct {
	Stream  StreamType
	Payload []byte
}

// ResultKind tags an ExecutionResult.
type ResultKind int

const (
	Success ResultKind = iota
	Failure
)

func (k ResultKind) String() string {
	if k == Failure {
		return "failure"
	}
	return "success"
}

// ExecutionResult is either Success carrying stdout or Failure carrying
// stderr.
type ExecutionResult struct {
	Kind   ResultKind
	Output []byte
}

// SuccessResult returns Success(stdout).
func SuccessResult(stdout []byte) ExecutionResult {
	return ExecutionResult{Kind: Success, Output: stdout}
}

// FailureResult returns Failure(stderr).
func FailureResult(stderr []byte) ExecutionResult {
	return ExecutionResult{Kind: Failure, Output: stderr}
}

// Demultiplexer splits an attach stream into stdout and stderr.
type Demultiplexer struct {
	// MaxOutput bounds the combined stdout and stderr bytes. Zero means
	// unbounded.
	MaxOutput int64
}

// Demultiplex reads frames from r until a clean end of stream and returns
// the concatenated stdout and stderr payloads. Stdin frames are consumed and
// dropped. A stream that ends inside a frame, or a frame with an unknown
// channel tag, fails the whole read.
func (d Demultiplexer) Demultiplex(r io.Reader) ([]byte, []byte, error) {
	var stdout, stderr []byte

	frames := &frameReader{r: r, maxOutput: d.MaxOutput, discardStdin: true}
	for {
		f, err := frames.next()
		if err == io.EOF {
			return stdout, stderr, nil
		}
		if err != nil {
			return nil, nil, err
		}

		switch f.Stream {
		case Stdout:
			stdout = append(stdout, f.Payload...)
		case Stderr:
			stderr = append(stderr, f.Payload...)
		}
	}
}

// Read demultiplexes r and classifies the output: any stderr makes the
// result a Failure.
func (d Demultiplexer) Read(r io.Reader) (ExecutionResult, error) {
	stdout, stderr, err := d.Demultiplex(r)
	if err != nil {
		return ExecutionResult{}, err
	}
	return Classify(stdout, stderr), nil
}

// Classify returns Failure(stderr) when stderr is non-empty, otherwise
// Success(stdout).
func Classify(stdout, stderr []byte) ExecutionResult {
	if len(stderr) > 0 {
		return FailureResult(stderr)
	}
	if stdout == nil {
		stdout = []byte{}
	}
	return SuccessResult(stdout)
}

// ReadFrame reads a single frame, stdin frames included. It returns io.EOF
// only when r ends before the first header byte.
func ReadFrame(r io.Reader) (Frame, error) {
	return (&frameReader{r: r}).next()
}

// frameReader reads consecutive frames, keeping a running total of stdout
// and stderr bytes against maxOutput.
type frameReader struct {
	r            io.Reader
	maxOutput    int64
	total        int64
	discardStdin bool
}

func (f *frameReader) next() (Frame, error) {
	stream, length, err := readHeader(f.r)
	if err != nil {
		return Frame{}, err
	}

	if stream == Stdin && f.discardStdin {
		n, err := io.CopyN(io.Discard, f.r, length)
		if err != nil {
			return Frame{}, readError(eofIfShort(err), fmt.Sprintf("truncated stdin payload: got %d of %d bytes", n, length))
		}
		return Frame{Stream: Stdin}, nil
	}

	if stream != Stdin {
		if f.maxOutput > 0 && f.total+length > f.maxOutput {
			return Frame{}, newError(CodeOutputLimit, fmt.Sprintf("output exceeds %s", units.BytesSize(float64(f.maxOutput))), nil)
		}
		f.total += length
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(f.r, payload); err != nil {
		return Frame{}, readError(eofIfShort(err), fmt.Sprintf("truncated %s payload: got %d of %d bytes", stream, n, length))
	}

	return Frame{Stream: stream, Payload: payload}, nil
}

// readHeader reads and validates one 8-byte frame header. A bare io.EOF
// means the stream ended cleanly between frames.
func readHeader(r io.Reader) (StreamType, int64, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, 0, io.EOF
		}
		return 0, 0, readError(err, "truncated frame header")
	}

	stream := StreamType(header[0])
	if stream > Stderr {
		return 0, 0, newError(CodeDecode, fmt.Sprintf("unknown stream type %d in frame header", header[0]), nil)
	}

	return stream, int64(binary.BigEndian.Uint32(header[4:])), nil
}

// eofIfShort maps the plain io.EOF that io.CopyN and io.ReadFull report for
// a zero-byte short read onto io.ErrUnexpectedEOF, since the header already
// promised more bytes.
func eofIfShort(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readError classifies a read failure: a premature end of stream violates
// the frame format, anything else is an I/O failure.
func readError(err error, message string) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(CodeDecode, message, err)
	}
	return newError(CodeIO, "failed reading attach stream", err)
}
