// Package kafka publishes the outcome of every indexer run to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

var _ feindexer.Observer = &Notifier{}

// Event is the message published for a finished run.
type Event struct {
	Indexer       string    `json:"indexer"`
	Index         string    `json:"index"`
	State         string    `json:"state"`
	Failed        bool      `json:"failed"`
	Documents     int       `json:"documents"`
	Written       int       `json:"written"`
	Skipped       int       `json:"skipped"`
	FailedDocs    int       `json:"failed_docs"`
	Error         string    `json:"error,omitempty"`
	Started       time.Time `json:"started"`
	ElapsedMillis int64     `json:"elapsed_ms"`
}

// NewEvent summarizes res.
func NewEvent(res *feindexer.RunResult) Event {
	e := Event{
		Indexer:       res.Indexer,
		Index:         res.Index,
		State:         res.State.String(),
		Failed:        res.Failed(),
		Documents:     res.Documents,
		Written:       res.Written,
		Skipped:       res.Skipped,
		FailedDocs:    res.FailedDocs,
		Started:       res.Started,
		ElapsedMillis: int64(res.Elapsed / time.Millisecond),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// JSONEvent implements the sarama.Encoder interface for Event using json.
type JSONEvent Event

// Encode marshals the event to json.
func (e JSONEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Length returns the length of the marshalled json.
func (e JSONEvent) Length() int {
	bytes, _ := e.Encode()
	return len(bytes)
}

// Notifier is a feindexer.Observer which sends an Event keyed by indexer
// name for each run.
type Notifier struct {
	Producer sarama.SyncProducer
	Topic    string
}

// NewNotifier connects a synchronous producer to hosts.
func NewNotifier(hosts []string, topic string) (*Notifier, error) {
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, feindexer.Connectivity(errors.Wrap(err, "getting new producer"))
	}
	return &Notifier{Producer: producer, Topic: topic}, nil
}

// Observe implements feindexer.Observer.
func (n *Notifier) Observe(ctx context.Context, res *feindexer.RunResult) error {
	msg := &sarama.ProducerMessage{
		Topic: n.Topic,
		Key:   sarama.StringEncoder(res.Indexer),
		Value: JSONEvent(NewEvent(res)),
	}
	_, _, err := n.Producer.SendMessage(msg)
	return errors.Wrapf(err, "sending run of %s to %s", res.Indexer, n.Topic)
}

// Close closes the producer.
func (n *Notifier) Close() error {
	return n.Producer.Close()
}
