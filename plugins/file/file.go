// Package file is a reference Data Interface plugin that discovers dump
// files on the local filesystem. Dumps are named
// "<project>_<collector>_<rib|update>_<dumptime>.linefmt[.zst]" under a
// configurable root directory; zstd-compressed files are transparently
// decompressed by Open.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
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
const ID = "file"

// PollInterval is how often NextBatch re-scans the root directory while in
// live mode and no new file has appeared.
const PollInterval = 2 * time.Second

var filenamePattern = regexp.MustCompile(`^([^_]+)_([^_]+)_(rib|update)_(\d+)\.linefmt(\.zst)?$`)

func init() {
	diface.Register(ID, func() diface.Plugin { return New() })
}

// Plugin scans RootDir for dump files matching filenamePattern.
type Plugin struct {
	rootDir   string
	delivered map[string]struct{}
}

// New returns a Plugin with no root directory configured; SetOption
// "root_dir" must be called before Start.
func New() *Plugin {
	return &Plugin{delivered: make(map[string]struct{})}
}

func (p *Plugin) Describe() diface.Info {
	return diface.Info{
		ID:   ID,
		Name: "file",
		Options: []diface.Option{
			{Name: "root_dir", Description: "directory to scan for dump files"},
		},
	}
}

func (p *Plugin) SetOption(name, value string) error {
	switch name {
	case "root_dir":
		p.rootDir = value
		return nil
	default:
		return fmt.Errorf("file: unknown option %q", name)
	}
}

func (p *Plugin) Start(_ filter.View) error {
	if p.rootDir == "" {
		return fmt.Errorf("file: root_dir option is required")
	}
	info, err := os.Stat(p.rootDir)
	if err != nil {
		return fmt.Errorf("file: stat root_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file: root_dir %q is not a directory", p.rootDir)
	}
	return nil
}

func (p *Plugin) Stop() error { return nil }

// NextBatch scans RootDir for files not yet delivered. In batch mode, a
// scan finding nothing new returns (0, nil) — authoritative end-of-stream.
// In live mode it polls until a new file appears or ctx is done.
func (p *Plugin) NextBatch(ctx context.Context, sink inputqueue.Sink, live bool) (int, error) {
	for {
		found, err := p.scan()
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

func (p *Plugin) scan() ([]dumpmeta.Metadata, error) {
	var out []dumpmeta.Metadata
	err := filepath.WalkDir(p.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, seen := p.delivered[path]; seen {
			return nil
		}
		md, ok, err := parseFilename(d.Name())
		if err != nil {
			return fmt.Errorf("file: %s: %w", path, err)
		}
		if !ok {
			return nil
		}
		md.URI = "file://" + path
		out = append(out, md)
		p.delivered[path] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DumpTime < out[j].DumpTime })
	return out, nil
}

func parseFilename(name string) (dumpmeta.Metadata, bool, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return dumpmeta.Metadata{}, false, nil
	}
	project, collector, kind := m[1], m[2], m[3]
	dumpTime, err := strconv.ParseUint(m[4], 10, 32)
	if err != nil {
		return dumpmeta.Metadata{}, false, fmt.Errorf("invalid dump time %q: %w", m[4], err)
	}
	dt := dumpmeta.Update
	if kind == "rib" {
		dt = dumpmeta.RIB
	}
	return dumpmeta.Metadata{
		Project:     project,
		Collector:   collector,
		DumpType:    dt,
		DumpTime:    uint32(dumpTime),
		FileTime:    uint32(dumpTime),
		InitialTime: uint32(dumpTime),
	}, true, nil
}

// Open implements mrt.OpenFunc for "file://" URIs: it opens the named file,
// transparently decompressing it with zstd if its name ends in ".zst", and
// wraps it in a linefmt.Decoder.
func Open(meta dumpmeta.Metadata) (mrt.Decoder, error) {
	path := strings.TrimPrefix(meta.URI, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file: open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return linefmt.NewDecoderCloser(f, f), nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file: zstd reader %s: %w", path, err)
	}
	return linefmt.NewDecoderCloser(zr, closerFunc(func() error {
		zr.Close()
		return f.Close()
	})), nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

var _ io.Closer = closerFunc(nil)
