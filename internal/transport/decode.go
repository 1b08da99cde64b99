package transport

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody wraps body in a decoder for the Content-Encoding in h. When a
// decoder is installed the encoding and length headers are removed, since
// they no longer describe what the reader yields. Unknown encodings pass
// through untouched, as do responses that never carry a body (HEAD, 204, 304).
func decodeBody(body io.ReadCloser, h http.Header, method string, status int) io.ReadCloser {
	if method == http.MethodHead || status == http.StatusNoContent || status == http.StatusNotModified {
		return body
	}
	enc := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding")))
	switch enc {
	case "gzip", "x-gzip", "deflate", "br", "zstd":
	default:
		return body
	}
	h.Del("Content-Encoding")
	h.Del("Content-Length")
	return &decodingBody{src: body, encoding: enc}
}

// decodingBody defers decoder construction to the first Read so that
// building a response never touches the network.
type decodingBody struct {
	src      io.ReadCloser
	encoding string
	r        io.Reader
	closer   func()
	err      error
}

func (d *decodingBody) init() error {
	if d.r != nil || d.err != nil {
		return d.err
	}
	br := bufio.NewReader(d.src)
	// An empty stream decodes to an empty body whatever it was labelled.
	if _, err := br.Peek(1); err == io.EOF {
		d.r = strings.NewReader("")
		return nil
	}

	switch d.encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(br)
		if err != nil {
			d.err = fmt.Errorf("context: gzip: %w", err)
			return d.err
		}
		d.r = zr
		d.closer = func() { _ = zr.Close() }
	case "deflate":
		// HTTP deflate is zlib-wrapped; some servers send raw DEFLATE anyway.
		if hdr, _ := br.Peek(2); isZlibHeader(hdr) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				d.err = fmt.Errorf("context: deflate: %w", err)
				return d.err
			}
			d.r = zr
			d.closer = func() { _ = zr.Close() }
			return nil
		}
		fr := flate.NewReader(br)
		d.r = fr
		d.closer = func() { _ = fr.Close() }
	case "br":
		d.r = brotli.NewReader(br)
	case "zstd":
		zr, err := zstd.NewReader(br)
		if err != nil {
			d.err = fmt.Errorf("context: zstd: %w", err)
			return d.err
		}
		d.r = zr
		d.closer = zr.Close
	}
	return nil
}

// isZlibHeader reports whether b starts with a zlib CMF/FLG pair (RFC 1950).
func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func (d *decodingBody) Read(p []byte) (int, error) {
	if err := d.init(); err != nil {
		return 0, err
	}
	return d.r.Read(p)
}

func (d *decodingBody) Close() error {
	if d.closer != nil {
		d.closer()
	}
	return d.src.Close()
}
