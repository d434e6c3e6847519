package logging

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AccessFormat names one of the three supported access-log line shapes.
type AccessFormat string

const (
	FormatCommon   AccessFormat = "common"
	FormatCombined AccessFormat = "combined"
	FormatJSON     AccessFormat = "json"
)

// AccessEntry is the data one access-log line renders.
type AccessEntry struct {
	RemoteAddr string
	User       string
	Time       time.Time
	Method     string
	Path       string
	Proto      string
	Status     int
	Size       int64
	Referer    string
	UserAgent  string
}

// Format renders entry per format. "common" is the Apache Common Log
// Format; "combined" additionally appends referer and user-agent;
// "json" emits a single-line JSON object.
func Format(format AccessFormat, e AccessEntry) (string, error) {
	switch format {
	case FormatCommon, "":
		return formatCommon(e), nil
	case FormatCombined:
		return formatCombined(e), nil
	case FormatJSON:
		return formatJSON(e)
	default:
		return "", fmt.Errorf("logging: unknown access format %q", format)
	}
}

func formatCommon(e AccessEntry) string {
	user := e.User
	if user == "" {
		user = "-"
	}
	return fmt.Sprintf(`%s - %s [%s] "%s %s %s" %d %d`,
		e.RemoteAddr, user, e.Time.Format("02/Jan/2006:15:04:05 -0700"),
		e.Method, e.Path, e.Proto, e.Status, e.Size)
}

func formatCombined(e AccessEntry) string {
	referer := e.Referer
	if referer == "" {
		referer = "-"
	}
	ua := e.UserAgent
	if ua == "" {
		ua = "-"
	}
	return fmt.Sprintf(`%s "%s" "%s"`, formatCommon(e), referer, ua)
}

func formatJSON(e AccessEntry) (string, error) {
	data, err := json.Marshal(map[string]interface{}{
		"remote_addr": e.RemoteAddr,
		"time":        e.Time.Format(time.RFC3339),
		"method":      e.Method,
		"path":        e.Path,
		"proto":       e.Proto,
		"status":      e.Status,
		"size":        e.Size,
		"referer":     e.Referer,
		"user_agent":  e.UserAgent,
	})
	if err != nil {
		return "", fmt.Errorf("logging: marshaling access entry: %w", err)
	}
	return string(data), nil
}

// EntryFromRequest builds an AccessEntry's request-derived fields from
// a live *http.Request, leaving Status/Size for the caller to fill in
// once the response has been written.
func EntryFromRequest(r *http.Request) AccessEntry {
	return AccessEntry{
		RemoteAddr: remoteAddrHost(r),
		Time:       time.Now(),
		Method:     r.Method,
		Path:       r.URL.RequestURI(),
		Proto:      r.Proto,
		Referer:    r.Referer(),
		UserAgent:  r.UserAgent(),
	}
}

func remoteAddrHost(r *http.Request) string {
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx >= 0 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
