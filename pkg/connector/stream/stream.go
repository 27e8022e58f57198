// Package stream implements the Kafka stream source. A read consumes every
// partition of the dataset's topic up to the high water mark observed when
// the read starts, so each read is a bounded batch.
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// Args are the args of source.stream.
type Args struct {
	Brokers  []string `yaml:"brokers" required:"true"`
	ClientID string   `yaml:"client_id" default:"porter"`
	Version  string   `yaml:"version"`
	// InitialOffset is oldest or newest
	InitialOffset string        `yaml:"initial_offset" default:"oldest"`
	MaxMessages   int           `yaml:"max_messages" default:"100000"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" default:"10s"`

	TLS          bool   `yaml:"tls"`
	SASLUsername string `yaml:"sasl_username"`
	SASLPassword string `yaml:"sasl_password"`
}

// Validate checks the offset and version settings.
func (a *Args) Validate() error {
	if a.InitialOffset != "oldest" && a.InitialOffset != "newest" {
		return fmt.Errorf("initial_offset must be oldest or newest, got %q", a.InitialOffset)
	}
	if a.Version != "" {
		if _, err := sarama.ParseKafkaVersion(a.Version); err != nil {
			return err
		}
	}
	if a.MaxMessages <= 0 {
		return fmt.Errorf("max_messages must be positive")
	}
	return nil
}

func init() {
	registry.MustRegister(schema.VariantOf(schema.KindSource, string(models.SourceTypeStream)), Args{}, New,
		"Reads JSON messages from Kafka topics")
}

// Client is the part of sarama.Client the connector uses.
type Client interface {
	Topics() ([]string, error)
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

// Connector reads Kafka topics.
type Connector struct {
	name     string
	args     *Args
	client   Client
	consumer sarama.Consumer
	logger   *zap.Logger
}

// New creates a stream connector from validated args.
func New(cfg registry.Config) (core.Connector, error) {
	args, err := schema.As[Args](cfg.Args)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:   cfg.Name,
		args:   args,
		logger: logger.With(zap.String("connector", cfg.Name)),
	}, nil
}

// NewWithClient creates a connector over existing clients.
func NewWithClient(name string, args *Args, client Client, consumer sarama.Consumer) *Connector {
	return &Connector{
		name:     name,
		args:     args,
		client:   client,
		consumer: consumer,
		logger:   logger.With(zap.String("connector", name)),
	}
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) saramaConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = c.args.ClientID
	cfg.Consumer.Return.Errors = true
	if c.args.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.args.Version)
		if err != nil {
			return nil, err
		}
		cfg.Version = v
	}
	if c.args.TLS {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.args.SASLUsername != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = c.args.SASLUsername
		cfg.Net.SASL.Password = c.args.SASLPassword
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}
	return cfg, cfg.Validate()
}

// Connect creates the Kafka client and consumer.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	cfg, err := c.saramaConfig()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration")
	}
	client, err := sarama.NewClient(c.args.Brokers, cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka client")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka consumer")
	}
	c.client, c.consumer = client, consumer
	c.logger.Info("connected", zap.Strings("brokers", c.args.Brokers))
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	var err error
	if c.consumer != nil {
		err = c.consumer.Close()
	}
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	c.client, c.consumer = nil, nil
	return err
}

func (c *Connector) connected() error {
	if c.client == nil || c.consumer == nil {
		return errors.New(errors.ErrorTypeConnection, fmt.Sprintf("stream connector %q is not connected", c.name))
	}
	return nil
}

// Exists reports whether the dataset's topic is known to the cluster.
func (c *Connector) Exists(ctx context.Context, d *models.Dataset) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}
	topics, err := c.client.Topics()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list topics")
	}
	for _, t := range topics {
		if t == d.StreamName {
			return true, nil
		}
	}
	return false, nil
}

// Read consumes the topic until every partition reaches the high water mark
// seen at the start, max_messages is reached or a partition stays idle for
// idle_timeout.
func (c *Connector) Read(ctx context.Context, req core.ReadRequest, out core.RecordWriter) error {
	if err := c.connected(); err != nil {
		return err
	}
	topic := req.Dataset.StreamName
	partitions, err := c.client.Partitions(topic)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatasetMissing, "failed to list partitions of "+topic)
	}

	start := sarama.OffsetOldest
	if c.args.InitialOffset == "newest" {
		start = sarama.OffsetNewest
	}

	remaining := c.args.MaxMessages
	for _, p := range partitions {
		if remaining <= 0 {
			break
		}
		n, err := c.readPartition(ctx, topic, p, start, remaining, out)
		if err != nil {
			return err
		}
		remaining -= n
	}
	c.logger.Debug("topic read",
		zap.String("topic", topic),
		zap.Int("partitions", len(partitions)),
		zap.Int("messages", c.args.MaxMessages-remaining))
	return nil
}

func (c *Connector) readPartition(ctx context.Context, topic string, partition int32, start int64, limit int, out core.RecordWriter) (int, error) {
	hwm, err := c.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to fetch high water mark")
	}
	oldest, err := c.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to fetch oldest offset")
	}
	if hwm <= oldest || start == sarama.OffsetNewest {
		return 0, nil
	}

	pc, err := c.consumer.ConsumePartition(topic, partition, start)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to consume %s/%d", topic, partition))
	}
	defer pc.Close()

	idle := time.NewTimer(c.args.IdleTimeout)
	defer idle.Stop()

	n := 0
	for n < limit {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-idle.C:
			c.logger.Warn("partition idle before high water mark",
				zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("hwm", hwm))
			return n, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return n, errors.Wrap(cerr.Err, errors.ErrorTypeConnection, "consume failed")
			}
		case msg := <-pc.Messages():
			if msg == nil {
				return n, nil
			}
			if err := out.Write(ctx, decodeMessage(msg)); err != nil {
				return n, err
			}
			n++
			if msg.Offset >= hwm-1 {
				return n, nil
			}
			idle.Reset(c.args.IdleTimeout)
		}
	}
	return n, nil
}

// decodeMessage turns a JSON object message into a record. Anything else
// is kept as a string under "value".
func decodeMessage(msg *sarama.ConsumerMessage) core.Record {
	rec := core.Record{}
	if err := json.Unmarshal(msg.Value, &rec); err != nil || rec == nil {
		rec = core.Record{"value": string(msg.Value)}
	}
	if len(msg.Key) > 0 {
		rec["_key"] = string(msg.Key)
	}
	rec["_partition"] = msg.Partition
	rec["_offset"] = msg.Offset
	return rec
}
