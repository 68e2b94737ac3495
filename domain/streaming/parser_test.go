package streaming

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// chunkReader replays a fixed chunk sequence, one chunk per Read call
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	n := copy(p, chunk)
	return n, nil
}

func drain(t *testing.T, d *Decoder) []Message {
	t.Helper()

	var msgs []Message
	for {
		msg, err := d.Next(context.Background())
		if err == io.EOF {
			return msgs
		}
		if pkgerrors.IsFrameParse(err) {
			continue
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func TestDecoderSplitChunks(t *testing.T) {
	t.Run("a frame split across two chunks equals the unsplit parse", func(t *testing.T) {
		split := NewDecoder(&chunkReader{chunks: []string{
			`data: {"ty`,
			`pe":"metadata","payload":{"title":"Photosynthesis"}}` + "\n\n",
		}}, nil)
		whole := NewDecoder(strings.NewReader(
			`data: {"type":"metadata","payload":{"title":"Photosynthesis"}}`+"\n\n",
		), nil)

		fromSplit := drain(t, split)
		fromWhole := drain(t, whole)

		require.Len(t, fromSplit, 1)
		assert.Equal(t, fromWhole, fromSplit)
		assert.Equal(t, Metadata{Title: "Photosynthesis"}, fromSplit[0])
	})

	t.Run("one chunk may carry several frames", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"metadata","payload":{"title":"A"}}`+"\n\n"+
				`data: {"type":"outline","payload":{"chapters":[{"index":0,"title":"Intro"}]}}`+"\n\n",
		), nil)

		msgs := drain(t, d)
		require.Len(t, msgs, 2)
		assert.Equal(t, TypeMetadata, msgs[0].Type())
		assert.Equal(t, TypeOutline, msgs[1].Type())
	})

	t.Run("the delimiter itself may straddle chunks", func(t *testing.T) {
		d := NewDecoder(&chunkReader{chunks: []string{
			`data: {"type":"complete"}` + "\n",
			"\n",
		}}, nil)

		msgs := drain(t, d)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeComplete, msgs[0].Type())
	})
}

func TestDecoderMalformedFrames(t *testing.T) {
	t.Run("a malformed frame is skipped without corrupting the next", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"metadata","payload":{broken}`+"\n\n"+
				`data: {"type":"metadata","payload":{"title":"B"}}`+"\n\n",
		), nil)

		msg, err := d.Next(context.Background())
		require.Error(t, err)
		assert.True(t, pkgerrors.IsFrameParse(err))
		assert.Nil(t, msg)

		msg, err = d.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Metadata{Title: "B"}, msg)
	})

	t.Run("unknown type tags are frame errors", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"telemetry","payload":{}}`+"\n\n",
		), nil)

		_, err := d.Next(context.Background())
		require.Error(t, err)
		assert.True(t, pkgerrors.IsFrameParse(err))
	})

	t.Run("frames without a data line are ignored", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			": keep-alive\n\n"+
				`data: {"type":"complete"}`+"\n\n",
		), nil)

		msgs := drain(t, d)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeComplete, msgs[0].Type())
	})
}

func TestDecoderTermination(t *testing.T) {
	t.Run("complete is terminal and later frames are ignored", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"complete"}`+"\n\n"+
				`data: {"type":"metadata","payload":{"title":"late"}}`+"\n\n",
		), nil)

		msg, err := d.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, TypeComplete, msg.Type())

		_, err = d.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("an error message is terminal", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"error","payload":{"message":"model unavailable"}}`+"\n\n",
		), nil)

		msg, err := d.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, TypeError, msg.Type())
		assert.Equal(t, "model unavailable", msg.(UpstreamFailure).Message)

		_, err = d.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("a trailing partial frame is dropped at end of stream", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(
			`data: {"type":"metadata","payload":{"title":"A"}}`+"\n\n"+
				`data: {"type":"paragraph","pay`,
		), nil)

		msgs := drain(t, d)
		require.Len(t, msgs, 1)
		assert.Equal(t, TypeMetadata, msgs[0].Type())
	})

	t.Run("cancellation stops consumption", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d := NewDecoder(strings.NewReader(`data: {"type":"complete"}`+"\n\n"), nil)
		_, err := d.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled)

		_, err = d.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Run("encoded frames decode back to the same messages", func(t *testing.T) {
		original := []Message{
			Metadata{Title: "Photosynthesis", Difficulty: "intermediate", Language: "nl"},
			AspectsBatch{Aspects: []Aspect{
				{Label: "Light Reactions", Importance: "high", Expandable: true},
				{Label: "Calvin Cycle", Expandable: true},
			}},
			Paragraph{ChapterIndex: 0, ParagraphIndex: 0, Title: "Intro", Content: "Plants convert light."},
			Complete{},
		}

		var wire strings.Builder
		for _, msg := range original {
			frame, err := EncodeFrame(msg)
			require.NoError(t, err)
			wire.Write(frame)
		}

		d := NewDecoder(strings.NewReader(wire.String()), nil)
		decoded := drain(t, d)
		assert.Equal(t, original, decoded)
	})
}
