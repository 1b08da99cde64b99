package httpclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// validHeaders converts m into an http.Header, silently dropping entries whose
// name or value would not survive the wire. Keys are applied in sorted order
// so that case-insensitive duplicates resolve the same way every time, with
// the last one winning.
func validHeaders(m map[string]string, logger *slog.Logger) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for _, k := range sortedKeys(m) {
		v := m[k]
		name := strings.TrimSpace(k)
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(v) {
			logger.Debug("dropping invalid header", "name", k)
			continue
		}
		h.Set(name, v)
	}
	return h
}

// mergeHeaders layers override on top of base per header name.
func mergeHeaders(base, override http.Header) http.Header {
	out := base.Clone()
	if out == nil {
		out = make(http.Header, len(override))
	}
	for k, vs := range override {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// queryValues converts a flat parameter map into url.Values.
func queryValues(m map[string]string) url.Values {
	if m == nil {
		return nil
	}
	q := make(url.Values, len(m))
	for k, v := range m {
		q.Set(k, v)
	}
	return q
}

// cookiePairs renders m as name=value strings in name order.
func cookiePairs(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		pairs = append(pairs, k+"="+m[k])
	}
	return pairs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
