package accesslog

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal/logging"
	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestWritesCommonFormatLine(t *testing.T) {
	var buf bytes.Buffer
	w := &writer{out: &buf, cfg: Config{Format: logging.FormatCommon}}

	ctx := pipeline.New(httptest.NewRequest("GET", "/hello", nil))
	ctx.ResponseStatus = 200
	ctx.ResponseBody = []byte("hi")

	_, err := w.hook(ctx)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"GET /hello HTTP/1.1" 200 2`)
}

func TestWritesJSONFormatLine(t *testing.T) {
	var buf bytes.Buffer
	w := &writer{out: &buf, cfg: Config{Format: logging.FormatJSON}}

	ctx := pipeline.New(httptest.NewRequest("POST", "/submit", nil))
	ctx.ResponseStatus = 201

	_, err := w.hook(ctx)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"status":201`)
	require.Contains(t, buf.String(), `"method":"POST"`)
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := &writer{out: &buf, cfg: Config{Format: logging.FormatCommon}}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			ctx := pipeline.New(httptest.NewRequest("GET", "/x", nil))
			ctx.ResponseStatus = 200
			_, _ = w.hook(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	require.Equal(t, 10, bytes.Count(buf.Bytes(), []byte("\n")))
}
