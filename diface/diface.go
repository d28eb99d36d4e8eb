// Package diface is the uniform façade over pluggable upstream archive
// backends. Exactly one Plugin is active at a time; the Manager enumerates
// the static plugin registry, honors SetActive, and prunes whatever a
// plugin discovers against the session's filters before handing it to the
// Input Manager.
package diface

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
	"github.com/bgpstream-go/bgpstream/metrics"
)

// Option describes one plugin-specific, string-typed configuration knob.
type Option struct {
	Name        string
	Description string
}

// Info describes a registered plugin: its stable id, display name, and the
// options it accepts via SetOption.
type Info struct {
	ID      string
	Name    string
	Options []Option
}

// Plugin is the contract every Data Interface backend implements.
type Plugin interface {
	Describe() Info
	SetOption(name, value string) error
	Start(fv filter.View) error
	NextBatch(ctx context.Context, sink inputqueue.Sink, live bool) (int, error)
	Stop() error
}

// Factory constructs a fresh Plugin instance. Plugins register a Factory at
// package-init time via Register, matching spec §9's "plugin registration
// is a static table resolvable at build time."
type Factory func() Plugin

var registry = map[string]Factory{}

// Register adds a plugin factory to the static registry. Intended to be
// called from a plugin package's init(); panics on a duplicate id, since
// that can only indicate a build-time programming error.
func Register(id string, factory Factory) {
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("diface: plugin %q already registered", id))
	}
	registry[id] = factory
}

var (
	// ErrUnknownInterface is returned by SetActive for an unregistered id.
	ErrUnknownInterface = errors.New("diface: unknown data interface")
	// ErrNoActiveInterface is returned by SetOption/Start/NextBatch/Stop
	// before SetActive has selected a plugin.
	ErrNoActiveInterface = errors.New("diface: no active data interface")
)

// Manager owns the plugin registry lookup, the active plugin, and the
// filter-based pruning of whatever that plugin discovers.
type Manager struct {
	logger *zap.Logger
	active Plugin
	id     string
}

// NewManager returns a Manager with no active plugin selected.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Interfaces lists every statically registered plugin's Info, sorted by id
// for deterministic output.
func Interfaces() []Info {
	infos := make([]Info, 0, len(registry))
	for _, factory := range registry {
		infos = append(infos, factory().Describe())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// InterfaceIDByName resolves a plugin's display name back to its id.
func InterfaceIDByName(name string) (string, bool) {
	for id, factory := range registry {
		if factory().Describe().Name == name {
			return id, true
		}
	}
	return "", false
}

// SetActive selects the plugin that will serve this session. Only legal
// before Start.
func (m *Manager) SetActive(id string) error {
	factory, ok := registry[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterface, id)
	}
	m.active = factory()
	m.id = id
	return nil
}

// SetOption forwards a string-typed option to the active plugin. Returns
// ErrNoActiveInterface if no plugin has been selected yet.
func (m *Manager) SetOption(name, value string) error {
	if m.active == nil {
		return ErrNoActiveInterface
	}
	return m.active.SetOption(name, value)
}

// ActiveInfo returns the active plugin's Info, if one is selected.
func (m *Manager) ActiveInfo() (Info, bool) {
	if m.active == nil {
		return Info{}, false
	}
	return m.active.Describe(), true
}

// Start is the one-shot call made at session start.
func (m *Manager) Start(fv filter.View) error {
	if m.active == nil {
		return ErrNoActiveInterface
	}
	return m.active.Start(fv)
}

// NextBatch asks the active plugin for more dump metadata, prunes whatever
// it returns against fv (plugins are allowed to over-deliver), and forwards
// the surviving items into sink. The returned count is the plugin's own
// raw count, not the post-pruning count: a batch that the plugin reports as
// non-empty but that prunes away entirely is not the same as the plugin
// authoritatively reporting end-of-stream, and callers (the Session pull
// loop) must be able to tell the two apart.
func (m *Manager) NextBatch(ctx context.Context, sink inputqueue.Sink, fv filter.View, live bool) (int, error) {
	if m.active == nil {
		return -1, ErrNoActiveInterface
	}
	pruning := &pruningSink{sink: sink, fv: fv}
	n, err := m.active.NextBatch(ctx, pruning, live)
	if err != nil {
		metrics.DataInterfaceErrorsTotal.WithLabelValues(m.id).Inc()
		return -1, err
	}
	metrics.DataInterfaceBatchSize.WithLabelValues(m.id).Observe(float64(pruning.accepted))
	if n < 0 {
		return -1, fmt.Errorf("diface: plugin %q returned negative batch count", m.id)
	}
	return n, nil
}

// Stop releases the active plugin's resources. Safe to call with no active
// plugin (a no-op).
func (m *Manager) Stop() error {
	if m.active == nil {
		return nil
	}
	return m.active.Stop()
}

// pruningSink wraps the real inputqueue.Sink and drops any metadata item
// that does not satisfy fv, since plugins are allowed to over-deliver.
type pruningSink struct {
	sink     inputqueue.Sink
	fv       filter.View
	accepted int
}

func (s *pruningSink) Enqueue(items ...dumpmeta.Metadata) {
	keep := items[:0:0]
	for _, item := range items {
		if s.fv.MatchesMetadata(item) {
			keep = append(keep, item)
		}
	}
	if len(keep) == 0 {
		return
	}
	s.sink.Enqueue(keep...)
	s.accepted += len(keep)
}
