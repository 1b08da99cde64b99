// Package pipeline runs requests through one client session and turns each
// into an archived, bot-checked exchange.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/primp/internal/bypass"
	"github.com/FranksOps/primp/internal/storage"
	"github.com/FranksOps/primp/pkg/httpclient"
)

// Sender is the slice of *httpclient.Client the pipeline needs.
type Sender interface {
	Execute(ctx context.Context, r httpclient.Request) (*httpclient.Response, error)
	Profile() string
}

// Config wires the pipeline stages together.
type Config struct {
	Client     Sender
	Workers    int                // in-flight requests; <= 0 means 1
	Archive    storage.Backend    // optional
	Signatures []bypass.Signature // nil means bypass.DefaultSignatures()
	Logger     *slog.Logger
}

// Pipeline fetches, classifies and archives requests.
type Pipeline struct {
	client  Sender
	workers int
	archive storage.Backend
	sigs    []bypass.Signature
	logger  *slog.Logger
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, errors.New("context: pipeline needs a client")
	}
	p := &Pipeline{
		client:  cfg.Client,
		workers: max(cfg.Workers, 1),
		archive: cfg.Archive,
		sigs:    cfg.Signatures,
		logger:  cfg.Logger,
	}
	if p.sigs == nil {
		p.sigs = bypass.DefaultSignatures()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Fetch sends one request, reads the whole body and records the exchange.
// The returned Response is nil when err is non-nil; the exchange is always
// populated and archived.
func (p *Pipeline) Fetch(ctx context.Context, req httpclient.Request) (*storage.Exchange, *httpclient.Response, error) {
	ex := storage.NewExchange(strings.ToUpper(strings.TrimSpace(req.Method)), req.URL, p.client.Profile())

	start := time.Now()
	resp, err := p.client.Execute(ctx, req)
	var body []byte
	if err == nil {
		body, err = resp.Bytes()
	}
	ex.Duration = time.Since(start)

	if err != nil {
		ex.Error = err.Error()
		p.save(ctx, ex)
		return ex, nil, err
	}

	ex.FinalURL = resp.URL
	ex.StatusCode = resp.StatusCode
	ex.Proto = resp.Proto
	ex.Headers = canonical(resp.Headers())
	ex.Body = body
	if bypass.Analyze(ex, p.sigs) {
		p.logger.Warn("bot protection challenge detected", "url", ex.URL, "source", ex.DetectionSrc, "status", ex.StatusCode)
	}
	p.save(ctx, ex)
	return ex, resp, nil
}

// Run fetches every request with at most Workers in flight. Results are in
// input order; a failed request is recorded in its exchange and does not stop
// the others. The only error returned is ctx's.
func (p *Pipeline) Run(ctx context.Context, reqs []httpclient.Request) ([]*storage.Exchange, error) {
	out := make([]*storage.Exchange, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ex, resp, err := p.Fetch(ctx, req)
			if err != nil {
				p.logger.Debug("request failed", "url", req.URL, "err", err)
			} else {
				_ = resp.Close()
			}
			out[i] = ex
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return compact(out), err
	}
	return out, nil
}

func (p *Pipeline) save(ctx context.Context, ex *storage.Exchange) {
	if p.archive == nil {
		return
	}
	// Archive even when the request ctx is done, so cancellations are recorded.
	if err := p.archive.Save(context.WithoutCancel(ctx), ex); err != nil {
		p.logger.Warn("archiving exchange failed", "id", ex.ID, "err", err)
	}
}

func canonical(h map[string]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[http.CanonicalHeaderKey(k)] = []string{v}
	}
	return out
}

func compact(in []*storage.Exchange) []*storage.Exchange {
	out := in[:0]
	for _, ex := range in {
		if ex != nil {
			out = append(out, ex)
		}
	}
	return out
}
