package publish

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes execution reports and provider errors to a topic,
// keyed by client order id so one order's reports stay in one partition.
type KafkaSink struct {
	writer messageWriter
	connID string
	log    *zap.SugaredLogger
}

func NewKafkaSink(brokers []string, topic, connID string, logger *zap.SugaredLogger) *KafkaSink {
	log := util.OrNop(logger)
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		// the sink runs on the event consumer, so writes must not block it
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Errorw("kafka_publish_failed", "topic", topic, "messages", len(msgs), "err", err)
			}
		},
	}
	return newKafkaSink(w, connID, log)
}

func newKafkaSink(w messageWriter, connID string, log *zap.SugaredLogger) *KafkaSink {
	return &KafkaSink{writer: w, connID: connID, log: util.OrNop(log)}
}

type envelope struct {
	Type       string               `json:"type"`
	Connection string               `json:"connection"`
	Report     *oms.ExecutionReport `json:"report,omitempty"`
	Code       int                  `json:"code,omitempty"`
	Msg        string               `json:"msg,omitempty"`
}

func (k *KafkaSink) OnMessage(rep oms.ExecutionReport) {
	k.publish([]byte(rep.ClOrdID), envelope{Type: "execution_report", Connection: k.connID, Report: &rep})
}

func (k *KafkaSink) OnProviderError(code int, msg string) {
	k.publish([]byte("error:"+strconv.Itoa(code)), envelope{Type: "provider_error", Connection: k.connID, Code: code, Msg: msg})
}

func (k *KafkaSink) publish(key []byte, env envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		k.log.Errorw("kafka_encode_failed", "type", env.Type, "err", err)
		return
	}
	if err := k.writer.WriteMessages(context.Background(), kafka.Message{Key: key, Value: value}); err != nil {
		k.log.Errorw("kafka_publish_failed", "type", env.Type, "err", err)
	}
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

var _ oms.Sink = (*KafkaSink)(nil)
