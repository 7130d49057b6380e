package docker_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockerrun/internal/docker"
)

func TestDemultiplexer(t *testing.T) {
	demux := docker.Demultiplexer{}

	t.Run("Demultiplex", func(t *testing.T) {
		t.Run("concatenates each channel in order", func(t *testing.T) {
			var stream bytes.Buffer
			writeStdout(&stream, "one ")
			writeStderr(&stream, "warn ")
			writeStdin(&stream, "ignored")
			writeStdout(&stream, "two")
			writeStderr(&stream, "fail")

			stdout, stderr, err := demux.Demultiplex(&stream)
			require.NoError(t, err)
			assert.Equal(t, "one two", string(stdout))
			assert.Equal(t, "warn fail", string(stderr))
		})

		t.Run("never places stdin payloads in the output", func(t *testing.T) {
			stream := frames(frame(0, "secret"), frame(1, "out"), frame(0, "more"))

			stdout, stderr, err := demux.Demultiplex(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, "out", string(stdout))
			assert.Empty(t, stderr)
		})

		t.Run("accepts an empty stream", func(t *testing.T) {
			stdout, stderr, err := demux.Demultiplex(bytes.NewReader(nil))
			require.NoError(t, err)
			assert.Empty(t, stdout)
			assert.Empty(t, stderr)
		})

		t.Run("accepts zero-length frames", func(t *testing.T) {
			stream := frames(frame(1, ""), frame(1, "x"))

			stdout, _, err := demux.Demultiplex(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, "x", string(stdout))
		})

		t.Run("ignores the reserved header bytes", func(t *testing.T) {
			stream := frame(1, "hi")
			stream[1], stream[2], stream[3] = 0xff, 0xff, 0xff

			stdout, _, err := demux.Demultiplex(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, "hi", string(stdout))
		})

		t.Run("handles a reader that returns one byte at a time", func(t *testing.T) {
			stream := frames(frame(1, "hello"), frame(2, "err"))

			stdout, stderr, err := demux.Demultiplex(iotest.OneByteReader(bytes.NewReader(stream)))
			require.NoError(t, err)
			assert.Equal(t, "hello", string(stdout))
			assert.Equal(t, "err", string(stderr))
		})
	})

	t.Run("decode errors", func(t *testing.T) {
		cases := []struct {
			name   string
			stream []byte
		}{
			{"unknown channel tag", frames(frame(1, "ok"), frame(3, "x"))},
			{"truncated header", frames(frame(1, "ok"), []byte{1, 0, 0})},
			{"header without payload", rawFrame(1, 5, "")},
			{"truncated stdout payload", rawFrame(1, 5, "hel")},
			{"truncated stderr payload", rawFrame(2, 10, "bad")},
			{"truncated stdin payload", rawFrame(0, 4, "ab")},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				stdout, stderr, err := demux.Demultiplex(bytes.NewReader(tc.stream))
				require.Error(t, err)
				assert.Equal(t, docker.CodeDecode, docker.CodeOf(err))
				assert.Nil(t, stdout)
				assert.Nil(t, stderr)
			})
		}

		t.Run("does not skip past an unknown tag", func(t *testing.T) {
			stream := frames(frame(3, "x"), frame(1, "after"))

			_, err := demux.Read(bytes.NewReader(stream))
			require.ErrorContains(t, err, "unknown stream type 3")
		})
	})

	t.Run("io errors", func(t *testing.T) {
		t.Run("reports a failing reader as io-error", func(t *testing.T) {
			r := io.MultiReader(bytes.NewReader(frame(1, "ok")), iotest.ErrReader(errors.New("connection reset")))

			_, _, err := demux.Demultiplex(r)
			require.Error(t, err)
			assert.Equal(t, docker.CodeIO, docker.CodeOf(err))
			assert.ErrorContains(t, err, "connection reset")
		})
	})

	t.Run("MaxOutput", func(t *testing.T) {
		limited := docker.Demultiplexer{MaxOutput: 8}

		t.Run("allows output up to the limit", func(t *testing.T) {
			stream := frames(frame(1, "1234"), frame(2, "5678"))

			stdout, stderr, err := limited.Demultiplex(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, "1234", string(stdout))
			assert.Equal(t, "5678", string(stderr))
		})

		t.Run("aborts once combined output exceeds the limit", func(t *testing.T) {
			stream := frames(frame(1, "1234"), frame(2, "56789"))

			_, _, err := limited.Demultiplex(bytes.NewReader(stream))
			require.Error(t, err)
			assert.Equal(t, docker.CodeOutputLimit, docker.CodeOf(err))
		})

		t.Run("rejects a huge declared length before reading it", func(t *testing.T) {
			stream := rawFrame(1, 0xffffffff, "")

			_, _, err := limited.Demultiplex(bytes.NewReader(stream))
			assert.Equal(t, docker.CodeOutputLimit, docker.CodeOf(err))
		})

		t.Run("does not count stdin frames", func(t *testing.T) {
			stream := frames(frame(0, "0123456789"), frame(1, "ok"))

			stdout, _, err := limited.Demultiplex(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, "ok", string(stdout))
		})
	})

	t.Run("Read", func(t *testing.T) {
		t.Run("stdout then clean EOF is a success", func(t *testing.T) {
			result, err := demux.Read(bytes.NewReader(frame(1, "hello")))
			require.NoError(t, err)
			assert.Equal(t, docker.SuccessResult([]byte("hello")), result)
		})

		t.Run("any stderr is a failure carrying stderr only", func(t *testing.T) {
			stream := frames(frame(1, "ok"), frame(2, "bad"))

			result, err := demux.Read(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, docker.FailureResult([]byte("bad")), result)
		})

		t.Run("stderr before stdout is still a failure", func(t *testing.T) {
			stream := frames(frame(2, "e"), frame(1, "lots of stdout"))

			result, err := demux.Read(bytes.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, docker.Failure, result.Kind)
			assert.Equal(t, "e", string(result.Output))
		})

		t.Run("no output is an empty success", func(t *testing.T) {
			result, err := demux.Read(bytes.NewReader(nil))
			require.NoError(t, err)
			assert.Equal(t, docker.Success, result.Kind)
			assert.Empty(t, result.Output)
		})
	})
}

func TestReadFrame(t *testing.T) {
	t.Run("reads frames one at a time", func(t *testing.T) {
		r := bytes.NewReader(frames(frame(2, "err"), frame(0, "in")))

		f, err := docker.ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, docker.Frame{Stream: docker.Stderr, Payload: []byte("err")}, f)

		f, err = docker.ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, docker.Frame{Stream: docker.Stdin, Payload: []byte("in")}, f)

		_, err = docker.ReadFrame(r)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("fails on a truncated payload", func(t *testing.T) {
		_, err := docker.ReadFrame(bytes.NewReader(rawFrame(1, 3, "a")))
		assert.Equal(t, docker.CodeDecode, docker.CodeOf(err))
	})
}

func TestDemultiplexMatchesStdCopy(t *testing.T) {
	stream := frames(frame(1, "line one\n"), frame(2, "oops\n"), frame(1, ""), frame(1, "line two\n"), frame(2, "again"))

	var wantStdout, wantStderr bytes.Buffer
	_, err := stdcopy.StdCopy(&wantStdout, &wantStderr, bytes.NewReader(stream))
	require.NoError(t, err)

	stdout, stderr, err := docker.Demultiplexer{MaxOutput: 1024}.Demultiplex(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, wantStdout.String(), string(stdout))
	assert.Equal(t, wantStderr.String(), string(stderr))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, docker.SuccessResult([]byte("out")), docker.Classify([]byte("out"), nil))
	assert.Equal(t, docker.FailureResult([]byte("err")), docker.Classify([]byte("out"), []byte("err")))
	assert.Equal(t, "stdout", docker.Stdout.String())
	assert.Equal(t, "unknown(7)", docker.StreamType(7).String())
	assert.Equal(t, "failure", docker.Failure.String())
}
