package proxy

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
)

// relayChunks copies upstream bytes to the client in the order received,
// flushing after every chunk. No re-framing, no buffering-for-reordering;
// a client disconnect just ends the read loop.
func relayChunks(w http.ResponseWriter, reader io.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_, _ = io.Copy(w, reader)
		return
	}

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				log.Debug().Err(writeErr).Msg("client disconnected mid-stream")
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("upstream stream ended with error")
			}
			return
		}
	}
}

// RelaySSE relays a Server-Sent Events response without buffering the full
// body. The SSE payload is opaque at this layer; only the transport headers
// are enforced (anti-buffering hint included for nginx-style intermediaries).
func RelaySSE(w http.ResponseWriter, resp *http.Response, rid string) {
	h := w.Header()
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/event-stream"
	}
	h.Set("Content-Type", forceUTF8EventStream(ct))
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if rid != "" {
		h.Set("x-request-id", rid)
	}
	w.WriteHeader(resp.StatusCode)
	relayChunks(w, resp.Body)
}

func forceUTF8EventStream(ct string) string {
	if ct == "text/event-stream" {
		return "text/event-stream; charset=utf-8"
	}
	return ct
}

// RelayRange relays a byte-range (PDF) response: only the allow-listed
// headers pass through, and HEAD suppresses the body while preserving status
// and headers.
func RelayRange(w http.ResponseWriter, resp *http.Response, rid string, head bool) {
	out := FilterRangeHeaders(resp.Header)
	if rid != "" {
		out.Set("x-request-id", rid)
	}
	dst := w.Header()
	for k, vs := range out {
		dst[k] = vs
	}
	w.WriteHeader(resp.StatusCode)
	if head {
		return
	}
	relayChunks(w, resp.Body)
}
