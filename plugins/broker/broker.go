// Package broker is a reference Data Interface plugin that consumes dump
// notifications from a Kafka topic via a consumer group: each record's
// value is a JSON-encoded dump-discovery event. Intended for live mode;
// in batch mode a single poll is made, which waits until records arrive or
// ctx is done, and a poll that yields no records ends the stream.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/bgpstream-go/bgpstream/config"
	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
)

// ID is this plugin's registered identifier.
const ID = "broker"

func init() {
	diface.Register(ID, func() diface.Plugin { return New(nil) })
}

// notification is the wire shape of one dump-discovery event published to
// the notification topic.
type notification struct {
	Project              string `json:"project"`
	Collector            string `json:"collector"`
	DumpType             int    `json:"dump_type"`
	DumpTime             uint32 `json:"dump_time"`
	FileTime             uint32 `json:"file_time"`
	InitialTime          uint32 `json:"initial_time"`
	DurationHintSeconds  int64  `json:"duration_hint_seconds"`
	URI                  string `json:"uri"`
}

// Plugin consumes dump notifications from Kafka via a franz-go consumer
// group client.
type Plugin struct {
	logger *zap.Logger
	client *kgo.Client
	joined atomic.Bool

	cfg config.BrokerConfig
}

// New returns a Plugin with no brokers configured; SetOption "brokers" and
// "group_id" must be called before Start. logger may be nil.
func New(logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{logger: logger}
}

func (p *Plugin) Describe() diface.Info {
	return diface.Info{
		ID:   ID,
		Name: "broker",
		Options: []diface.Option{
			{Name: "brokers", Description: "comma-separated broker addresses"},
			{Name: "client_id", Description: "Kafka client id"},
			{Name: "group_id", Description: "consumer group id"},
			{Name: "topics", Description: "comma-separated notification topics"},
			{Name: "tls_enabled", Description: "\"true\" to dial brokers over TLS"},
			{Name: "tls_ca_file", Description: "path to a PEM CA bundle"},
			{Name: "tls_cert_file", Description: "path to a client certificate"},
			{Name: "tls_key_file", Description: "path to a client key"},
			{Name: "sasl_enabled", Description: "\"true\" to authenticate via SASL"},
			{Name: "sasl_mechanism", Description: "SASL mechanism (PLAIN)"},
			{Name: "sasl_username", Description: "SASL username"},
			{Name: "sasl_password", Description: "SASL password"},
		},
	}
}

func (p *Plugin) SetOption(name, value string) error {
	switch name {
	case "brokers":
		p.cfg.Brokers = splitNonEmpty(value)
		return nil
	case "client_id":
		p.cfg.ClientID = value
		return nil
	case "group_id":
		p.cfg.GroupID = value
		return nil
	case "topics":
		p.cfg.Topics = splitNonEmpty(value)
		return nil
	case "tls_enabled":
		return setBool(&p.cfg.TLS.Enabled, value)
	case "tls_ca_file":
		p.cfg.TLS.CAFile = value
		return nil
	case "tls_cert_file":
		p.cfg.TLS.CertFile = value
		return nil
	case "tls_key_file":
		p.cfg.TLS.KeyFile = value
		return nil
	case "sasl_enabled":
		return setBool(&p.cfg.SASL.Enabled, value)
	case "sasl_mechanism":
		p.cfg.SASL.Mechanism = value
		return nil
	case "sasl_username":
		p.cfg.SASL.Username = value
		return nil
	case "sasl_password":
		p.cfg.SASL.Password = value
		return nil
	default:
		return fmt.Errorf("broker: unknown option %q", name)
	}
}

func (p *Plugin) Start(_ filter.View) error {
	if len(p.cfg.Brokers) == 0 {
		return fmt.Errorf("broker: brokers option is required")
	}
	if p.cfg.GroupID == "" {
		return fmt.Errorf("broker: group_id option is required")
	}
	if len(p.cfg.Topics) == 0 {
		return fmt.Errorf("broker: topics option is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(p.cfg.Brokers...),
		kgo.ConsumerGroup(p.cfg.GroupID),
		kgo.ConsumeTopics(p.cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			p.joined.Store(true)
			p.logger.Info("broker: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, _ map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				p.logger.Error("broker: commit on revoke failed", zap.Error(err))
			}
			p.joined.Store(false)
			p.logger.Info("broker: partitions revoked")
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			p.joined.Store(false)
			p.logger.Info("broker: partitions lost")
		}),
	}
	if p.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(p.cfg.ClientID))
	}
	tlsCfg, err := p.cfg.BuildTLSConfig()
	if err != nil {
		return fmt.Errorf("broker: building TLS config: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := p.cfg.BuildSASLMechanism(); mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("broker: creating client: %w", err)
	}
	p.client = client
	return nil
}

func (p *Plugin) Stop() error {
	if p.client == nil {
		return nil
	}
	p.client.Close()
	p.client = nil
	return nil
}

// IsJoined reports whether the consumer group currently holds partitions.
func (p *Plugin) IsJoined() bool {
	return p.joined.Load()
}

// NextBatch polls one round of fetches, decodes every record as a
// notification, and enqueues the resulting metadata. A poll yielding
// nothing ends the stream in batch mode; in live mode it polls again,
// since franz-go's PollFetches already blocks internally until records
// arrive or ctx is done.
func (p *Plugin) NextBatch(ctx context.Context, sink inputqueue.Sink, live bool) (int, error) {
	for {
		fetches := p.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				p.logger.Error("broker: fetch error",
					zap.String("topic", e.Topic),
					zap.Int32("partition", e.Partition),
					zap.Error(e.Err),
				)
			}
		}

		var batch []dumpmeta.Metadata
		var marked []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			var n notification
			if err := json.Unmarshal(r.Value, &n); err != nil {
				p.logger.Warn("broker: malformed notification, skipping", zap.Error(err))
				p.client.MarkCommitRecords(r)
				return
			}
			batch = append(batch, dumpmeta.Metadata{
				Project:      n.Project,
				Collector:    n.Collector,
				DumpType:     dumpmeta.DumpType(n.DumpType),
				DumpTime:     n.DumpTime,
				FileTime:     n.FileTime,
				InitialTime:  n.InitialTime,
				URI:          n.URI,
				DurationHint: time.Duration(n.DurationHintSeconds) * time.Second,
			})
			marked = append(marked, r)
		})

		if len(batch) > 0 {
			sink.Enqueue(batch...)
			for _, r := range marked {
				p.client.MarkCommitRecords(r)
			}
			if err := p.client.CommitMarkedOffsets(ctx); err != nil {
				p.logger.Error("broker: commit offsets failed", zap.Error(err))
			}
			return len(batch), nil
		}
		if len(marked) > 0 {
			if err := p.client.CommitMarkedOffsets(ctx); err != nil {
				p.logger.Error("broker: commit offsets failed", zap.Error(err))
			}
		}
		if !live {
			return 0, nil
		}
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("broker: invalid boolean %q: %w", value, err)
	}
	*dst = b
	return nil
}
