package exporters

import (
	"fmt"
	"os"

	"github.com/Shopify/sarama"
	"github.com/ugorji/go/codec"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

var msgpackHandle codec.MsgpackHandle

type kafkaExporter struct {
	id       string
	broker   string
	topic    string
	producer sarama.AsyncProducer
}

// NewKafkaExporter publishes records as msgpack maps to a kafka topic.
func NewKafkaExporter(broker, topic string) Exporter {
	return &kafkaExporter{
		id:     fmt.Sprintf("kafka|%s|%s", broker, topic),
		broker: broker,
		topic:  topic,
	}
}

func (pe *kafkaExporter) ID() string {
	return pe.id
}

func (pe *kafkaExporter) Init() error {
	producer, err := sarama.NewAsyncProducer([]string{pe.broker}, nil)
	if err != nil {
		return fmt.Errorf("kafka: couldn't connect to %s: %w", pe.broker, err)
	}
	pe.producer = producer
	go func() {
		for err := range producer.Errors() {
			util.LogError("kafka exporter failed to produce message", "error", err)
		}
	}()
	return nil
}

// Export exports a single flow record.
func (pe *kafkaExporter) Export(r *flow.Record) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, &msgpackHandle).Encode(recordMap(r)); err != nil {
		util.LogError("kafka exporter failed to encode record", "error", err)
		return
	}
	pe.producer.Input() <- &sarama.ProducerMessage{Topic: pe.topic, Key: nil, Value: sarama.ByteEncoder(out)}
}

// Finish writes outstanding data and waits for completion.
func (pe *kafkaExporter) Finish() {
	pe.producer.Close()
}

func newKafkaExporter(args []string) ([]string, util.Module, error) {
	if len(args) < 2 {
		return args, nil, fmt.Errorf("kafka exporter needs broker and topic as arguments")
	}
	return args[2:], NewKafkaExporter(args[0], args[1]), nil
}

func kafkahelp(name string) {
	fmt.Fprintf(os.Stderr, `
The %s exporter publishes the records to a kafka topic, one msgpack encoded
map per flow.

Usage:
  export %s broker:9092 topic
`, name, name)
}

func init() {
	util.RegisterModule("export", "kafka", "Exports flows to a kafka topic.", newKafkaExporter, kafkahelp)
}
