package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantLine string
		wantBody string
	}{
		{"line only", "LIST_FILES", "LIST_FILES", ""},
		{"line and body", "SYNC_CHUNK 1/2\n{\"a\":", "SYNC_CHUNK 1/2", "{\"a\":"},
		{"body with newlines", "SUPLOAD_STRUCTURE top\na\na/b", "SUPLOAD_STRUCTURE top", "a\na/b"},
		{"empty", "", "", ""},
		{"leading newline", "\nbody", "", "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Parse([]byte(tt.payload))
			assert.Equal(t, tt.wantLine, f.Line)
			assert.Equal(t, tt.wantBody, f.Body)
		})
	}
}

func TestVerbAndArgs(t *testing.T) {
	f := Parse([]byte("DOWNLOAD a.bin extra"))
	assert.Equal(t, "DOWNLOAD", f.Verb())
	assert.Equal(t, []string{"a.bin", "extra"}, f.Args())
	assert.Equal(t, "a.bin", f.Arg(0))
	assert.Equal(t, "", f.Arg(5))

	empty := Parse(nil)
	assert.Equal(t, "", empty.Verb())
	assert.Nil(t, empty.Args())
}

func TestBytesRoundTrip(t *testing.T) {
	f := Frame{Line: "SYNC_CHUNK 2/3", Body: "payload\nwith newline"}
	assert.Equal(t, f, Parse(f.Bytes()))

	noBody := Frame{Line: "SYNC_FINISH"}
	assert.Equal(t, []byte("SYNC_FINISH"), noBody.Bytes())
}

func TestChunkEncoding(t *testing.T) {
	data := []byte{0x00, 0xff, 0x10, 0x20}
	enc := EncodeChunk(data)
	dec, err := DecodeChunk(enc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, dec))

	_, err = DecodeChunk("not base64!!!")
	assert.Error(t, err)
}

func TestSplitChunks(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := SplitChunks(data, 1024)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1024)
	assert.Len(t, chunks[1], 1024)
	assert.Len(t, chunks[2], 452)

	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	assert.Equal(t, data, joined)

	assert.Nil(t, SplitChunks(nil, 1024))
	assert.Nil(t, SplitChunks(data, 0))
}

func TestParseChunkRef(t *testing.T) {
	tests := []struct {
		in     string
		wantI  int
		wantN  int
		wantOK bool
	}{
		{"1/1", 1, 1, true},
		{"2/5", 2, 5, true},
		{"5/5", 5, 5, true},
		{"6/5", 0, 0, false},
		{"0/5", 0, 0, false},
		{"1/", 0, 0, false},
		{"/5", 0, 0, false},
		{"a/b", 0, 0, false},
		{"12", 0, 0, false},
		{"-1/5", 0, 0, false},
	}

	for _, tt := range tests {
		i, n, ok := ParseChunkRef(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.wantI, i)
			assert.Equal(t, tt.wantN, n)
		}
	}

	assert.Equal(t, "3/7", FormatChunkRef(3, 7))
}
