// Package forward is the proxy-side hop: it resolves a logical bot
// identifier to a network address and relays an already-routed request
// verbatim. It never inspects message semantics; failures are classified
// purely by where they occurred relative to the network call.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Directory resolves a logical bot identifier to its base URL.
type Directory interface {
	Resolve(bot string) (string, bool)
}

// StaticDirectory is a config-backed directory, replaceable wholesale on
// hot reload.
type StaticDirectory struct {
	mu    sync.RWMutex
	bases map[string]string
}

func NewStaticDirectory(bases map[string]string) *StaticDirectory {
	d := &StaticDirectory{}
	d.Update(bases)
	return d
}

func (d *StaticDirectory) Resolve(bot string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	base, ok := d.bases[bot]
	return base, ok
}

func (d *StaticDirectory) Update(bases map[string]string) {
	cp := make(map[string]string, len(bases))
	for k, v := range bases {
		cp[k] = strings.TrimRight(v, "/")
	}
	d.mu.Lock()
	d.bases = cp
	d.mu.Unlock()
}

// Response is the remote bot's reply, passed back to the caller untouched.
type Response struct {
	StatusCode int
	Body       []byte
}

// Forwarder relays requests to bot processes.
type Forwarder struct {
	dir    Directory
	client *http.Client
	log    *slog.Logger
}

func New(dir Directory, timeout time.Duration, log *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		dir:    dir,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Forward POSTs body to the resolved bot at path. Any non-2xx reply or
// network fault comes back as a classified *Error; a 2xx reply is returned
// verbatim.
func (f *Forwarder) Forward(ctx context.Context, bot, path string, contentType string, body []byte) (*Response, error) {
	base, ok := f.dir.Resolve(bot)
	if ok {
		if _, err := url.Parse(base); err != nil {
			ok = false
		}
	}
	if !ok {
		f.log.Warn("bot identifier unresolved", slog.String("bot", bot))
		return nil, &Error{Kind: KindBackend, Bot: bot, Detail: "bot identifier not found in directory"}
	}

	target := base + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindRequestSetup, Bot: bot, Detail: err.Error(), cause: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("bot unreachable", slog.String("bot", bot), slog.Any("err", err))
		return nil, &Error{Kind: KindConnection, Bot: bot, Detail: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Bot: bot, Detail: fmt.Sprintf("reading reply: %v", err), cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 207 is the surrounding layer's partial-success convention and
		// counts as a delivered reply, not a transport fault.
		if resp.StatusCode == http.StatusMultiStatus {
			return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
		}
		f.log.Warn("bot returned error status",
			slog.String("bot", bot),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &Error{
			Kind:       KindBot,
			Bot:        bot,
			Detail:     fmt.Sprintf("remote status %d", resp.StatusCode),
			RemoteBody: respBody,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
