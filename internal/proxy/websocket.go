package proxy

import (
	"io"
	"net"
	"net/http"
)

// serveWebSocket passes a successfully-upgraded connection straight
// through to the chosen upstream server, bypassing caching and
// compression entirely — the pipeline's ResponseFilter/ResponseBody
// phases never see a WebSocket body. It hijacks the client connection,
// dials the upstream raw, forwards the original request line and
// headers, then copies bytes in both directions until either side
// closes.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, upstreamAddr string) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return errUpgradeUnsupported
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return err
	}
	defer clientConn.Close()

	upstreamConn, err := net.DialTimeout("tcp", upstreamAddr, h.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer upstreamConn.Close()

	if err := r.Write(upstreamConn); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstreamConn, clientConn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, upstreamConn)
		errCh <- err
	}()
	<-errCh
	return nil
}

var errUpgradeUnsupported = errWebSocket("proxy: response writer does not support hijacking")

type errWebSocket string

func (e errWebSocket) Error() string { return string(e) }
