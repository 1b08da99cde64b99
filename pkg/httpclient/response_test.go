package httpclient

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResponse(t *testing.T, body *countingBody, header http.Header) *Response {
	t.Helper()
	u, err := url.Parse("https://example.com/start")
	require.NoError(t, err)
	return newResponse(resultWith(body, header), u, slog.Default())
}

func TestResponse_BytesReadOnceConcurrently(t *testing.T) {
	payload := []byte("the quick brown fox")
	body := newCountingBody(payload)
	resp := testResponse(t, body, nil)

	const callers = 32
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = resp.Bytes()
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, payload, results[i])
	}
	assert.Equal(t, int64(len(payload)), body.served.Load(), "stream should be drained exactly once")
	assert.Equal(t, int32(1), body.closes.Load(), "stream should be closed exactly once")

	again, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestResponse_BytesReturnsCopy(t *testing.T) {
	resp := testResponse(t, newCountingBody([]byte("abc")), nil)

	first, err := resp.Bytes()
	require.NoError(t, err)
	first[0] = 'X'

	second, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), second)
}

func TestResponse_Text(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        string
		wantEnc     string
	}{
		{"latin1 charset", "text/plain; charset=iso-8859-1", []byte{0xE9}, "é", "iso-8859-1"},
		{"quoted charset", `text/html; charset="Windows-1252"`, []byte{0x80}, "€", "windows-1252"},
		{"no charset", "text/plain", []byte("héllo"), "héllo", "utf-8"},
		{"no content type", "", []byte("plain"), "plain", "utf-8"},
		{"invalid utf-8 is replaced", "text/plain; charset=utf-8", []byte{'a', 0xFF, 'b'}, "a\uFFFDb", "utf-8"},
		{"unknown charset falls back", "text/plain; charset=x-klingon", []byte("qapla'"), "qapla'", "x-klingon"},
		{"malformed content type", "text/plain; charset", []byte("ok"), "ok", "utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.contentType != "" {
				h.Set("Content-Type", tt.contentType)
			}
			resp := testResponse(t, newCountingBody(tt.body), h)

			text, err := resp.Text()
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, tt.wantEnc, resp.Encoding())

			raw, err := resp.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.body, raw)
		})
	}
}

func TestResponse_JSON(t *testing.T) {
	resp := testResponse(t, newCountingBody([]byte(`{"a":1}`)), nil)
	v, err := resp.JSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	var typed struct {
		A int `json:"a"`
	}
	require.NoError(t, resp.DecodeJSON(&typed))
	assert.Equal(t, 1, typed.A)
}

func TestResponse_JSONDecodeErrorKeepsBytes(t *testing.T) {
	body := newCountingBody([]byte(`{bad`))
	resp := testResponse(t, body, nil)

	_, err := resp.JSON()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrBodyConsumed)

	raw, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{bad`), raw)
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestResponse_Get(t *testing.T) {
	resp := testResponse(t, newCountingBody([]byte(`{"user":{"name":"ada","langs":["go","c"]}}`)), nil)

	name, err := resp.Get("user.name")
	require.NoError(t, err)
	assert.Equal(t, "ada", name.String())

	n, err := resp.Get("user.langs.#")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Int())

	bad := testResponse(t, newCountingBody([]byte(`nope`)), nil)
	_, err = bad.Get("a")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestResponse_HTML(t *testing.T) {
	h := http.Header{"Content-Type": {"text/html; charset=iso-8859-1"}}
	page := append([]byte("<html><head><title>Caf"), 0xE9)
	page = append(page, []byte("</title></head><body><a href=\"/x\">x</a></body></html>")...)
	resp := testResponse(t, newCountingBody(page), h)

	doc, err := resp.HTML()
	require.NoError(t, err)
	assert.Equal(t, "Café", doc.Find("title").Text())
	href, ok := doc.Find("a").Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "/x", href)
}

func TestResponse_Cookies(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "session=abc123; Path=/; HttpOnly")
	h.Add("Set-Cookie", " theme = dark ")
	h.Add("Set-Cookie", "session=def456")
	h.Add("Set-Cookie", "malformed")
	resp := testResponse(t, newCountingBody(nil), h)

	cookies := resp.Cookies()
	assert.Equal(t, map[string]string{"session": "def456", "theme": "dark"}, cookies)

	single := testResponse(t, newCountingBody(nil), http.Header{"Set-Cookie": {"session=abc123; Path=/; HttpOnly"}})
	assert.Equal(t, "abc123", single.Cookies()["session"])
}

func TestResponse_HeadersAreCopies(t *testing.T) {
	h := http.Header{}
	h.Add("X-Multi", "first")
	h.Add("X-Multi", "second")
	h.Set("Content-Type", "text/plain")
	resp := testResponse(t, newCountingBody(nil), h)

	got := resp.Headers()
	assert.Equal(t, "second", got["x-multi"])
	assert.Equal(t, "text/plain", got["content-type"])

	got["content-type"] = "mutated"
	delete(got, "x-multi")
	assert.Equal(t, "text/plain", resp.Headers()["content-type"])
	assert.Equal(t, "second", resp.Headers()["x-multi"])

	cookies := resp.Cookies()
	cookies["injected"] = "1"
	assert.NotContains(t, resp.Cookies(), "injected")
}

func TestResponse_Fields(t *testing.T) {
	resp := testResponse(t, newCountingBody(nil), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com/final", resp.URL)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
}

func TestResponse_MidStreamError(t *testing.T) {
	body := newCountingBody([]byte("partial body that breaks"))
	body.failAt = 7
	resp := testResponse(t, body, http.Header{"Content-Type": {"text/plain"}})

	_, err := resp.Bytes()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyConsumed)
	assert.ErrorIs(t, err, errMidStream)

	_, err = resp.Text()
	assert.ErrorIs(t, err, ErrBodyConsumed)
	assert.ErrorIs(t, err, errMidStream)
	assert.Equal(t, int32(1), body.closes.Load())

	assert.NotEmpty(t, resp.Headers(), "header accessors must survive body failures")
}

func TestResponse_Close(t *testing.T) {
	body := newCountingBody([]byte("unread"))
	resp := testResponse(t, body, nil)

	require.NoError(t, resp.Close())
	assert.Equal(t, int32(1), body.closes.Load())
	assert.Zero(t, body.served.Load())

	_, err := resp.Bytes()
	assert.ErrorIs(t, err, ErrBodyConsumed)
	assert.True(t, errors.Is(err, errBodyClosed))

	require.NoError(t, resp.Close())
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestResponse_CloseAfterRead(t *testing.T) {
	resp := testResponse(t, newCountingBody([]byte("kept")), nil)
	_, err := resp.Bytes()
	require.NoError(t, err)

	require.NoError(t, resp.Close())
	raw, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), raw)
}
