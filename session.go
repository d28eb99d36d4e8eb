// Package bgpstream is the session façade that wires the Filter Manager,
// Data Interface Manager, Input Manager, and Reader Manager into a single
// cursor-style pull API.
package bgpstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
	"github.com/bgpstream-go/bgpstream/metrics"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/reader"
	"github.com/bgpstream-go/bgpstream/record"
)

type state int

const (
	stateConfiguring state = iota
	stateStarted
	stateExhausted
	stateDestroyed
)

var (
	// ErrAlreadyStarted is returned by any configuration call made after
	// Start, and by a second call to Start itself.
	ErrAlreadyStarted = errors.New("bgpstream: session already started")
	// ErrNotStarted is returned by NextRecord before Start has been called.
	ErrNotStarted = errors.New("bgpstream: session not started")
)

// StartupError wraps a filter-validation or plugin-startup failure
// returned from Start.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("bgpstream: startup failed: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// Session is the root cursor over a filtered, merged stream of records
// drawn from one active Data Interface plugin. The zero value is not
// usable; construct with New.
type Session struct {
	logger *zap.Logger
	state  state
	live   bool

	filterMgr  *filter.Manager
	difaceMgr  *diface.Manager
	inputQueue *inputqueue.Queue
	readerMgr  *reader.Manager
}

// New returns a Session in the Configuring state. open resolves a dump's
// Metadata to a decoder; it is the only place the session (indirectly,
// through the Reader Manager) touches a dump's actual bytes.
func New(logger *zap.Logger, open mrt.OpenFunc) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		logger:     logger,
		filterMgr:  filter.NewManager(),
		difaceMgr:  diface.NewManager(logger),
		inputQueue: inputqueue.New(),
		readerMgr:  reader.NewManager(logger, open),
	}
}

func (s *Session) requireConfiguring() error {
	if s.state != stateConfiguring {
		return ErrAlreadyStarted
	}
	return nil
}

// AddFilter adds one metadata-level or element-level filter clause. Legal
// only before Start.
func (s *Session) AddFilter(kind filter.Kind, value string) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	return s.filterMgr.Add(kind, value)
}

// AddIntervalFilter restricts records to [begin, end]. Legal only before
// Start.
func (s *Session) AddIntervalFilter(begin, end uint32) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	return s.filterMgr.AddTimeInterval(begin, end)
}

// AddRecentIntervalFilter parses a "<N> <unit>" expression relative to now
// and installs it as the session's time interval. Legal only before Start.
func (s *Session) AddRecentIntervalFilter(expr string, now time.Time) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	begin, end, err := filter.ParseRecentInterval(expr, now, s.live)
	if err != nil {
		return err
	}
	return s.filterMgr.AddTimeInterval(begin, end)
}

// AddRIBPeriodFilter installs the minimum spacing between consecutive RIB
// dumps accepted per (project, collector). Legal only before Start.
func (s *Session) AddRIBPeriodFilter(period time.Duration) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	return s.filterMgr.AddRIBPeriod(period)
}

// SetDataInterface selects the active plugin by its registered id. Legal
// only before Start.
func (s *Session) SetDataInterface(id string) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	return s.difaceMgr.SetActive(id)
}

// SetDataInterfaceOption forwards a string-typed option to the active
// plugin. Legal only before Start.
func (s *Session) SetDataInterfaceOption(name, value string) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	return s.difaceMgr.SetOption(name, value)
}

// SetLiveMode toggles whether NextBatch is invoked in live (blocking,
// never-authoritatively-empty) or batch (terminates on a raw 0) mode.
// Legal only before Start.
func (s *Session) SetLiveMode(live bool) error {
	if err := s.requireConfiguring(); err != nil {
		return err
	}
	s.live = live
	return nil
}

// Start validates the installed filters, starts the active Data Interface
// plugin, and transitions the session to Started.
func (s *Session) Start(ctx context.Context) error {
	if s.state != stateConfiguring {
		return ErrAlreadyStarted
	}
	if err := s.filterMgr.Validate(); err != nil {
		return &StartupError{Err: err}
	}
	if err := s.difaceMgr.Start(s.filterMgr); err != nil {
		return &StartupError{Err: err}
	}
	s.state = stateStarted
	return nil
}

// NextRecord fills out with the next record in merge order, returning 1 on
// emission, 0 on end-of-stream (batch mode only; sticky thereafter), or -1
// with a non-nil error on failure. Legal only after Start.
func (s *Session) NextRecord(ctx context.Context, out *record.Record) (int, error) {
	switch s.state {
	case stateConfiguring:
		return -1, ErrNotStarted
	case stateExhausted:
		return 0, nil
	case stateDestroyed:
		return -1, ErrNotStarted
	}

	started := time.Now()
	defer func() {
		metrics.SessionNextRecordDuration.Observe(time.Since(started).Seconds())
	}()

	for s.readerMgr.IsEmpty() {
		for s.inputQueue.IsEmpty() {
			n, err := s.difaceMgr.NextBatch(ctx, s.inputQueue, s.filterMgr, s.live)
			if err != nil {
				return -1, err
			}
			if n == 0 {
				if s.live {
					// Live plugins must never authoritatively report
					// end-of-stream; NextBatch is expected to have
					// blocked until new data (or ctx cancellation)
					// before returning. Re-poll rather than exit.
					continue
				}
				s.state = stateExhausted
				return 0, nil
			}
		}
		batch := s.inputQueue.TakeBatch()
		if err := s.readerMgr.Add(batch, s.filterMgr); err != nil {
			return -1, err
		}
	}

	return s.readerMgr.NextRecord(out, s.filterMgr)
}

// Destroy tears down the session's collaborators in reverse dependency
// order (Readers, then DI, then the rest has nothing to release). Safe to
// call from any state, any number of times.
func (s *Session) Destroy() {
	if s.state == stateDestroyed {
		return
	}
	s.readerMgr.Close()
	if err := s.difaceMgr.Stop(); err != nil {
		s.logger.Debug("bgpstream: data interface stop failed", zap.Error(err))
	}
	s.state = stateDestroyed
}

// DataInterfaces lists every statically registered plugin.
func (s *Session) DataInterfaces() []diface.Info {
	return diface.Interfaces()
}

// DataInterfaceIDByName resolves a plugin's display name to its id.
func (s *Session) DataInterfaceIDByName(name string) (string, bool) {
	return diface.InterfaceIDByName(name)
}

// DataInterfaceInfo returns the active plugin's Info, if one is selected.
func (s *Session) DataInterfaceInfo() (diface.Info, bool) {
	return s.difaceMgr.ActiveInfo()
}

// DataInterfaceOptions lists the active plugin's configurable options.
func (s *Session) DataInterfaceOptions() []diface.Option {
	info, ok := s.difaceMgr.ActiveInfo()
	if !ok {
		return nil
	}
	return info.Options
}

// DataInterfaceOptionByName looks up one of the active plugin's options by
// name.
func (s *Session) DataInterfaceOptionByName(name string) (diface.Option, bool) {
	info, ok := s.difaceMgr.ActiveInfo()
	if !ok {
		return diface.Option{}, false
	}
	for _, opt := range info.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return diface.Option{}, false
}
