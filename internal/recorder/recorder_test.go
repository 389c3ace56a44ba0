package recorder

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntries(t *testing.T, compress bool, entries ...Entry) string {
	t.Helper()
	w, err := NewWriter(t.TempDir(), "session", compress)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Record(e))
	}
	require.NoError(t, w.Close())
	return w.Path()
}

func readAll(t *testing.T, path string) []Record {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			path := writeEntries(t, compress,
				Entry{Kind: KindObservation, Observation: []byte("iVBORw0KGgo=")},
				Entry{Kind: KindCommand, ID: "a1", Task: "planning", Text: "chop a tree"},
				Entry{Kind: KindReply, ID: "a1", Text: "1. find tree"},
			)
			if compress {
				assert.True(t, strings.HasSuffix(path, ".rec.zst"))
			}

			records := readAll(t, path)
			require.Len(t, records, 3)
			assert.Equal(t, KindObservation, records[0].Entry.Kind)
			assert.Equal(t, "chop a tree", records[1].Entry.Text)
			assert.Equal(t, "a1", records[2].Entry.ID)
			assert.False(t, records[0].Time.IsZero())
		})
	}
}

func TestRecordAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "closed", false)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Record(Entry{Kind: KindControl}), ErrClosed)
}

func TestOpenRejectsUnknownMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rec")
	require.NoError(t, os.WriteFile(path, []byte("STXMRAW1xxxxxxxx"), 0o644))
	_, err := Open(path)
	assert.ErrorContains(t, err, "magic")
}

func TestTruncatedTailEndsRecording(t *testing.T) {
	path := writeEntries(t, false,
		Entry{Kind: KindCommand, Text: "one"},
		Entry{Kind: KindCommand, Text: "two"},
	)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	records := readAll(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "one", records[0].Entry.Text)
}

func TestNormalizeJSONValue(t *testing.T) {
	var decoded any
	payload, err := cbor.Marshal(map[any]any{1: "x", "obs": []byte{1, 2, 3}, "list": []any{map[any]any{"k": 2}}})
	require.NoError(t, err)
	require.NoError(t, cbor.Unmarshal(payload, &decoded))

	got := NormalizeJSONValue(decoded).(map[string]any)
	assert.Equal(t, "x", got["1"])
	assert.Equal(t, "<3 bytes>", got["obs"])
	list := got["list"].([]any)
	assert.Equal(t, uint64(2), list[0].(map[string]any)["k"])
}
