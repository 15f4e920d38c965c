package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter はkafka.Writerのうち送信に必要な部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event は外部のメール送信ワーカーへ渡すメールイベント。
type Event struct {
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaTransport はメールをKafkaトピックへイベントとして発行する。
// 実際の送信は購読側のワーカーが行う。
type KafkaTransport struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaTransport はKafkaTransportを生成する。
// 受信者をキーにして同じ宛先のイベントを同一パーティションに揃える。
func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	return &KafkaTransport{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Send はメールイベントを1件発行する。
func (t *KafkaTransport) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(Event{
		Kind:      msg.Kind,
		From:      msg.From,
		To:        msg.To,
		Subject:   msg.Subject,
		HTML:      msg.HTML,
		CreatedAt: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode mail event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Time:  t.now(),
	}); err != nil {
		return fmt.Errorf("failed to publish mail event: %w", err)
	}
	return nil
}

// Close は内部のwriterを閉じる。
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
