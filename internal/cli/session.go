package cli

import (
	"log/slog"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FranksOps/primp/pkg/httpclient"
	"github.com/FranksOps/primp/pkg/proxy"
)

// addSessionFlags registers the client session options shared by request
// and batch.
func addSessionFlags(f *pflag.FlagSet) {
	f.String("impersonate", "", "browser profile, see 'primp profiles'")
	f.String("os", "", "platform for the profile (windows, macos, linux, android, ios)")
	f.String("proxy", "", "proxy URL (also PRIMP_PROXY)")
	f.String("proxy-file", "", "file of proxy URLs to rotate through")
	f.BoolP("insecure", "k", false, "skip TLS certificate verification")
	f.String("ca-cert", "", "PEM bundle of trusted roots")
	f.Bool("no-redirects", false, "do not follow redirects")
	f.Int("max-redirects", httpclient.DefaultMaxRedirects, "redirect hop limit")
	f.Bool("no-cookies", false, "disable the cookie store")
	f.Bool("no-referer", false, "do not send Referer on redirects")
	f.Bool("https-only", false, "refuse plain http")
	f.Bool("http2-only", false, "refuse HTTP/1.x")
	f.Float64("rps", 0, "pace requests to this many per second")
	f.Float64("jitter", 0, "stretch pacing intervals by up to this fraction")
	f.Duration("session-timeout", 0, "default timeout for every request in the session (0 disables)")
}

func newSessionClient(v *viper.Viper, logger *slog.Logger) (*httpclient.Client, error) {
	cfg := httpclient.Config{
		Impersonate:       v.GetString("impersonate"),
		ImpersonateOS:     v.GetString("os"),
		Proxy:             v.GetString("proxy"),
		Verify:            httpclient.Bool(!v.GetBool("insecure")),
		CACertFile:        v.GetString("ca-cert"),
		FollowRedirects:   httpclient.Bool(!v.GetBool("no-redirects")),
		MaxRedirects:      v.GetInt("max-redirects"),
		CookieStore:       httpclient.Bool(!v.GetBool("no-cookies")),
		Referer:           httpclient.Bool(!v.GetBool("no-referer")),
		HTTPSOnly:         v.GetBool("https-only"),
		HTTP2Only:         v.GetBool("http2-only"),
		RequestsPerSecond: v.GetFloat64("rps"),
		Jitter:            v.GetFloat64("jitter"),
		Timeout:           v.GetDuration("session-timeout"),
		Logger:            logger,
	}
	if path := v.GetString("proxy-file"); path != "" {
		pool := proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(path); err != nil {
			return nil, err
		}
		cfg.ProxyPool = pool
	}
	return httpclient.New(cfg)
}
