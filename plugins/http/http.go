// Package http is a reference Data Interface plugin that polls a JSON
// index of dumps published at a single URL, the HTTP analogue of
// plugins/file's directory scan. Open fetches a dump's bytes over HTTP,
// transparently zstd-decompressing ".zst"-suffixed URIs.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/mrt/linefmt"
)

// ID is this plugin's registered identifier.
const ID = "http"

// PollInterval is how often NextBatch re-fetches the index while in live
// mode and no new entry has appeared.
const PollInterval = 10 * time.Second

func init() {
	diface.Register(ID, func() diface.Plugin { return New() })
}

// indexEntry is the wire shape of one entry in the JSON index document.
type indexEntry struct {
	Project     string `json:"project"`
	Collector   string `json:"collector"`
	DumpType    int    `json:"dump_type"`
	DumpTime    uint32 `json:"dump_time"`
	FileTime    uint32 `json:"file_time"`
	InitialTime uint32 `json:"initial_time"`
	URI         string `json:"uri"`
}

// Plugin polls IndexURL for a JSON array of indexEntry and tracks which
// URIs have already been delivered.
type Plugin struct {
	indexURL  string
	client    *http.Client
	delivered map[string]struct{}
}

// New returns a Plugin with no index URL configured; SetOption
// "index_url" must be called before Start.
func New() *Plugin {
	return &Plugin{delivered: make(map[string]struct{})}
}

func (p *Plugin) Describe() diface.Info {
	return diface.Info{
		ID:   ID,
		Name: "http",
		Options: []diface.Option{
			{Name: "index_url", Description: "URL returning a JSON array of dump index entries"},
		},
	}
}

func (p *Plugin) SetOption(name, value string) error {
	switch name {
	case "index_url":
		p.indexURL = value
		return nil
	default:
		return fmt.Errorf("http: unknown option %q", name)
	}
}

func (p *Plugin) Start(_ filter.View) error {
	if p.indexURL == "" {
		return fmt.Errorf("http: index_url option is required")
	}
	p.client = &http.Client{Timeout: 30 * time.Second}
	return nil
}

func (p *Plugin) Stop() error {
	p.client = nil
	return nil
}

// NextBatch fetches the index and enqueues any entry not yet delivered.
// In batch mode an unchanged index ends the stream; in live mode it polls
// every PollInterval until a new entry appears or ctx is done.
func (p *Plugin) NextBatch(ctx context.Context, sink inputqueue.Sink, live bool) (int, error) {
	for {
		found, err := p.fetchNew(ctx)
		if err != nil {
			return -1, err
		}
		if len(found) > 0 {
			sink.Enqueue(found...)
			return len(found), nil
		}
		if !live {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func (p *Plugin) fetchNew(ctx context.Context) ([]dumpmeta.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http: building index request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: fetching index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http: index request %s: status %d", p.indexURL, resp.StatusCode)
	}

	var entries []indexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("http: decoding index: %w", err)
	}

	var out []dumpmeta.Metadata
	for _, e := range entries {
		if _, seen := p.delivered[e.URI]; seen {
			continue
		}
		out = append(out, dumpmeta.Metadata{
			Project:     e.Project,
			Collector:   e.Collector,
			DumpType:    dumpmeta.DumpType(e.DumpType),
			DumpTime:    e.DumpTime,
			FileTime:    e.FileTime,
			InitialTime: e.InitialTime,
			URI:         e.URI,
		})
		p.delivered[e.URI] = struct{}{}
	}
	return out, nil
}

// Open implements mrt.OpenFunc for "http://" and "https://" URIs: it issues
// a GET request and transparently zstd-decompresses a ".zst"-suffixed URI
// before handing the body to mrt/linefmt.Decoder.
func Open(meta dumpmeta.Metadata) (mrt.Decoder, error) {
	resp, err := http.Get(meta.URI)
	if err != nil {
		return nil, fmt.Errorf("http: fetching %s: %w", meta.URI, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http: fetching %s: status %d", meta.URI, resp.StatusCode)
	}

	if !strings.HasSuffix(meta.URI, ".zst") {
		return linefmt.NewDecoderCloser(resp.Body, resp.Body), nil
	}
	zr, err := zstd.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("http: zstd reader %s: %w", meta.URI, err)
	}
	return linefmt.NewDecoderCloser(zr, closerFunc(func() error {
		zr.Close()
		return resp.Body.Close()
	})), nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
