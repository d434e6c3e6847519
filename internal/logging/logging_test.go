package logging

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildDefaultLogger(t *testing.T) {
	logger, buffer, err := Build(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, buffer)
}

func TestBuildJSONLogger(t *testing.T) {
	cfg := Config{Level: "debug", Format: "json", Output: "stdout"}
	logger, _, err := Build(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestBuildRejectsUnknownFormat(t *testing.T) {
	_, _, err := Build(Config{Format: "xml"})
	require.Error(t, err)
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, _, err := Build(Config{Level: "trace"})
	require.Error(t, err)
}

func TestBuildRetainsRecentLinesInBuffer(t *testing.T) {
	logger, buffer, err := Build(DefaultConfig())
	require.NoError(t, err)
	logger.Info("hello")
	snap := buffer.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "hello", snap[0].Message)
}

func TestFormatCommon(t *testing.T) {
	e := AccessEntry{
		RemoteAddr: "127.0.0.1",
		Time:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Method:     "GET",
		Path:       "/x",
		Proto:      "HTTP/1.1",
		Status:     200,
		Size:       42,
	}
	line, err := Format(FormatCommon, e)
	require.NoError(t, err)
	require.Contains(t, line, "127.0.0.1")
	require.Contains(t, line, `"GET /x HTTP/1.1" 200 42`)
}

func TestFormatCombinedIncludesRefererAndAgent(t *testing.T) {
	e := AccessEntry{RemoteAddr: "1.2.3.4", Referer: "https://example.com", UserAgent: "curl/8"}
	line, err := Format(FormatCombined, e)
	require.NoError(t, err)
	require.Contains(t, line, "https://example.com")
	require.Contains(t, line, "curl/8")
}

func TestFormatJSON(t *testing.T) {
	e := AccessEntry{Method: "POST", Status: 201}
	line, err := Format(FormatJSON, e)
	require.NoError(t, err)
	require.Contains(t, line, `"method":"POST"`)
	require.Contains(t, line, `"status":201`)
}

func TestEntryFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/path?q=1", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	e := EntryFromRequest(r)
	require.Equal(t, "10.0.0.1", e.RemoteAddr)
	require.Equal(t, "GET", e.Method)
}
