package download

import (
	"bytes"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBlock(t *testing.T) {
	r := iotest.OneByteReader(bytes.NewReader([]byte("abcdefg")))
	block := make([]byte, 3)

	n, err := readBlock(r, block)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(block[:n]))

	n, err = readBlock(r, block)
	require.NoError(t, err)
	assert.Equal(t, "def", string(block[:n]))

	n, err = readBlock(r, block)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "g", string(block[:n]))
}

func TestReadBlock_PassesErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(bytes.NewReader([]byte("ab")), iotest.ErrReader(boom))

	n, err := readBlock(r, make([]byte, 8))
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, boom)
}

func TestManager_TruncatedBodyIsRetried(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("only ten.."))
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.RetryLimit = 1 })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Error(t, res.Err)
}

func TestClampBlockSize(t *testing.T) {
	assert.Equal(t, 1, clampBlockSize(-1))
	assert.Equal(t, 1, clampBlockSize(0))
	assert.Equal(t, 512, clampBlockSize(512))
	assert.Equal(t, MaxBlockSize, clampBlockSize(MaxBlockSize+1))
}
