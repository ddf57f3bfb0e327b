package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/config"
	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
)

// Header names set on produced records.
const (
	HeaderEventID         = "event_id"
	HeaderContentEncoding = "content-encoding"
	EncodingZstd          = "zstd"
)

const flushTimeout = 10 * time.Second

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Producer publishes decoded records as JSON to the parsed topic and the raw
// BMP bytes, wrapped in an OpenBMP frame, to the raw topic. Records are keyed
// by connection so each speaker's messages stay ordered in one partition.
type Producer struct {
	client        *kgo.Client
	parsedTopic   string
	rawTopic      string
	includeRaw    bool
	compressRaw   bool
	collectorHash uint32
	logger        *zap.Logger
	ready         atomic.Bool
}

func NewProducer(cfg config.KafkaConfig, instanceID string, includeRaw bool, logger *zap.Logger) (*Producer, error) {
	tlsCfg, err := cfg.BuildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if mech := cfg.BuildSASLMechanism(); mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}

	return newProducer(client, cfg, instanceID, includeRaw, logger), nil
}

func newProducer(client *kgo.Client, cfg config.KafkaConfig, instanceID string, includeRaw bool, logger *zap.Logger) *Producer {
	return &Producer{
		client:        client,
		parsedTopic:   cfg.ParsedTopic,
		rawTopic:      cfg.RawTopic,
		includeRaw:    includeRaw,
		compressRaw:   cfg.CompressRaw,
		collectorHash: CollectorHash(instanceID),
		logger:        logger,
	}
}

// CollectorHash derives the OpenBMP collector hash from the instance id.
func CollectorHash(instanceID string) uint32 {
	return uint32(xxhash.Sum64String(instanceID))
}

func (p *Producer) Name() string { return "kafka" }

// Write enqueues the record's Kafka messages. Delivery is asynchronous;
// failures are logged and counted when the broker answers.
func (p *Producer) Write(ctx context.Context, r *record.Record) error {
	recs, err := p.Records(r)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		p.client.Produce(ctx, rec, p.delivered)
	}
	return nil
}

func (p *Producer) delivered(rec *kgo.Record, err error) {
	if err != nil {
		p.ready.Store(false)
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.ForwardedTotal.WithLabelValues(p.Name(), "delivery_error").Inc()
		p.logger.Error("kafka delivery failed",
			zap.String("topic", rec.Topic),
			zap.ByteString("key", rec.Key),
			zap.Error(err),
		)
		return
	}
	p.ready.Store(true)
}

// Records builds the Kafka messages for one record: a JSON document for the
// parsed topic and an OpenBMP frame for the raw topic. Empty topic names
// disable the corresponding message.
func (p *Producer) Records(r *record.Record) ([]*kgo.Record, error) {
	key := []byte(r.Conn)
	headers := []kgo.RecordHeader{{Key: HeaderEventID, Value: []byte(r.EventID)}}
	var out []*kgo.Record

	if p.parsedTopic != "" {
		value, err := r.Marshal(p.includeRaw)
		if err != nil {
			return nil, fmt.Errorf("kafka: marshal record %s: %w", r.EventID, err)
		}
		out = append(out, &kgo.Record{
			Topic:     p.parsedTopic,
			Key:       key,
			Value:     value,
			Headers:   headers,
			Timestamp: r.ReceivedAt,
		})
	}

	if p.rawTopic != "" && len(r.Raw) > 0 {
		frame, err := bmp.EncodeOpenBMPFrame(p.collectorHash, r.Raw)
		if err != nil {
			return nil, fmt.Errorf("kafka: frame record %s: %w", r.EventID, err)
		}
		rawHeaders := headers
		if p.compressRaw {
			frame = zstdEncoder.EncodeAll(frame, nil)
			rawHeaders = append(rawHeaders[:len(rawHeaders):len(rawHeaders)],
				kgo.RecordHeader{Key: HeaderContentEncoding, Value: []byte(EncodingZstd)})
		}
		out = append(out, &kgo.Record{
			Topic:     p.rawTopic,
			Key:       key,
			Value:     frame,
			Headers:   rawHeaders,
			Timestamp: r.ReceivedAt,
		})
	}
	return out, nil
}

// RawValue returns the OpenBMP frame carried by a raw-topic record,
// decompressing it when the content-encoding header says so.
func RawValue(rec *kgo.Record) ([]byte, error) {
	for _, h := range rec.Headers {
		if h.Key != HeaderContentEncoding {
			continue
		}
		if string(h.Value) != EncodingZstd {
			return nil, fmt.Errorf("kafka: unsupported content-encoding %q", h.Value)
		}
		out, err := zstdDecoder.DecodeAll(rec.Value, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka: zstd decode: %w", err)
		}
		return out, nil
	}
	return rec.Value, nil
}

// Ping checks broker connectivity and marks the producer ready on success.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		p.ready.Store(false)
		return err
	}
	p.ready.Store(true)
	return nil
}

func (p *Producer) Ready() bool { return p.ready.Load() }

// Close flushes buffered records and closes the client.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("kafka: flush: %w", err)
	}
	return nil
}
