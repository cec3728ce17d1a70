package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// KafkaConfig configures the Kafka tick source
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// DefaultKafkaConfig returns the default consumer settings
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:    "market.ticks",
		GroupID:  "alpha-engine",
		MinBytes: 10e3,
		MaxBytes: 10e6,
	}
}

// KafkaSource consumes JSON ticks from a Kafka topic
type KafkaSource struct {
	logger *zap.Logger
	config KafkaConfig
	reader *kafka.Reader
}

// NewKafkaSource creates a Kafka tick source
func NewKafkaSource(logger *zap.Logger, config KafkaConfig) (*KafkaSource, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("feed: kafka brokers are required")
	}
	if config.Topic == "" {
		return nil, errors.New("feed: kafka topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		Topic:    config.Topic,
		GroupID:  config.GroupID,
		MinBytes: config.MinBytes,
		MaxBytes: config.MaxBytes,
	})

	return &KafkaSource{
		logger: logger.Named("kafka"),
		config: config,
		reader: reader,
	}, nil
}

// Name implements Source
func (s *KafkaSource) Name() string { return "kafka" }

// Run implements Source. Malformed messages are logged and skipped.
func (s *KafkaSource) Run(ctx context.Context, out chan<- types.Tick) error {
	defer func() {
		if err := s.reader.Close(); err != nil {
			s.logger.Warn("Failed to close Kafka reader", zap.Error(err))
		}
	}()

	s.logger.Info("Consuming ticks from Kafka",
		zap.Strings("brokers", s.config.Brokers),
		zap.String("topic", s.config.Topic),
		zap.String("group", s.config.GroupID))

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Kafka read failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		tick, err := ParseKafkaTick(msg.Value)
		if err != nil {
			s.logger.Debug("Dropping Kafka message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		if err := emit(ctx, out, tick); err != nil {
			return err
		}
	}
}

type kafkaTick struct {
	Symbol string   `json:"symbol"`
	T      int64    `json:"t"`
	C      float64  `json:"c"`
	V      float64  `json:"v"`
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
}

// ParseKafkaTick decodes a {symbol,t,c,v} message. Timestamps below 1e11 are taken as seconds.
func ParseKafkaTick(value []byte) (types.Tick, error) {
	var kt kafkaTick
	if err := json.Unmarshal(value, &kt); err != nil {
		return types.Tick{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ts := kt.T
	if ts > 0 && ts < 1e11 {
		ts *= 1000
	}
	tick := types.Tick{
		Symbol:    strings.ToUpper(kt.Symbol),
		Price:     kt.C,
		Volume:    kt.V,
		Timestamp: ts,
	}
	if kt.Bid != nil && kt.Ask != nil {
		tick.Bid, tick.Ask = *kt.Bid, *kt.Ask
	}
	if err := validate(tick); err != nil {
		return types.Tick{}, err
	}
	return tick, nil
}
