// Package kafka publishes joined timeseries rows to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
)

// messageWriter is the subset of kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces one message per joined row.
type Publisher struct {
	writer    messageWriter
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPublisher creates a Kafka producer for the given topic.
func NewPublisher(brokers []string, topic string, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, batchSize, logger, metrics)
}

func newPublisher(w messageWriter, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Publisher{writer: w, batchSize: batchSize, logger: logger, metrics: metrics}
}

// PublishTable serializes every row and writes them in batches. Rows are
// keyed by primary location so a location's rows stay on one partition.
func (p *Publisher) PublishTable(ctx context.Context, t domain.Table) (int, error) {
	msgs, err := tableMessages(t)
	if err != nil {
		return 0, err
	}
	sent := 0
	for start := 0; start < len(msgs); start += p.batchSize {
		end := min(start+p.batchSize, len(msgs))
		if err := p.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			return sent, fmt.Errorf("publish joined rows: %w", err)
		}
		sent += end - start
		p.metrics.MessagesPublished.Add(float64(end - start))
	}
	p.logger.Info("joined rows published", "messages", sent)
	return sent, nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// tableMessages marshals each row into a Kafka message.
func tableMessages(t domain.Table) ([]kafkago.Message, error) {
	keyIdx := t.Index(domain.ColPrimaryLocationID)
	headerCols := []string{domain.ColConfigurationName, domain.ColVariableName}

	records := t.Records()
	msgs := make([]kafkago.Message, len(records))
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("serialize joined row %d: %w", i, err)
		}
		msg := kafkago.Message{Value: data}
		if keyIdx >= 0 {
			msg.Key = []byte(domain.FormatValue(t.Rows[i][keyIdx]))
		}
		for _, col := range headerCols {
			if j := t.Index(col); j >= 0 {
				msg.Headers = append(msg.Headers, kafkago.Header{Key: col, Value: []byte(domain.FormatValue(t.Rows[i][j]))})
			}
		}
		msgs[i] = msg
	}
	return msgs, nil
}
