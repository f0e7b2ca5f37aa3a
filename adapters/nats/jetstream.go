package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/core/materializer"
)

const (
	defaultStreamName     = "EVENTUM_EVENTS"
	defaultSubjectPrefix  = "eventum.journal"
	defaultSnapshotBucket = "eventum_snapshots"

	headerAggregateID = "Eventum-Aggregate-Id"
	headerEventCount  = "Eventum-Event-Count"
	headerLastSeq     = "Eventum-Last-Sequence"

	loadBatchSize = 256
)

type JetStreamConnectorConfig struct {
	Connect        Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger // Log for diagnostics (optional)
	StreamName     string
	SubjectPrefix  string // events of an aggregate go to "<SubjectPrefix>.<aggregateId>"
	SnapshotBucket string
	Storage        jetstream.StorageType
	Now            func() time.Time
}

// JetStreamConnector keeps journals in JetStream. Every SaveEvents call is
// one stream message holding the whole batch, so batches are atomic. The
// append is conditional on the last message of the aggregate subject, which
// turns concurrent writers into [es.ErrConcurrencyConflict]. Snapshots live in
// a KV bucket, latest per aggregate, next to the stream sequence that loading
// resumes from.
type JetStreamConnector struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	snapshots     *snapshotStore
	log           *slog.Logger
	subjectPrefix string
	now           func() time.Time
}

func NewJetStreamConnector(ctx context.Context, cfg JetStreamConnectorConfig) (*JetStreamConnector, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	streamName := cfg.StreamName
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	bucket := cfg.SnapshotBucket
	if bucket == "" {
		bucket = defaultSnapshotBucket
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log = log.With(
		slog.String("connector", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "eventum journals",
		Subjects:    []string{subjectPrefix + ".>"},
		Storage:     cfg.Storage,
		Retention:   jetstream.LimitsPolicy,
		DenyDelete:  true,
		DenyPurge:   true,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	snapshots, err := newSnapshotStore(ctx, js, bucket)
	if err != nil {
		closeNc()
		return nil, err
	}

	log.Debug("ensured stream and snapshot bucket", slog.String("bucket", bucket))

	return &JetStreamConnector{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		snapshots:     snapshots,
		log:           log,
		subjectPrefix: subjectPrefix,
		now:           now,
	}, nil
}

func (c *JetStreamConnector) Close() error {
	c.js.CleanupPublisher()
	c.closeNc()
	c.log.Debug("closed")
	return nil
}

func (c *JetStreamConnector) GetJournal(ctx context.Context, aggregateID string) (*es.Journal, error) {
	if aggregateID == "" {
		return nil, errors.New("aggregate id is empty")
	}
	subject := aggregateSubject(c.subjectPrefix, aggregateID)

	last, err := c.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, fmt.Errorf("%w: %s", es.ErrJournalNotFound, aggregateID)
		}
		return nil, fmt.Errorf("get last message of %s: %w", aggregateID, err)
	}

	rec, _, err := c.snapshots.get(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	j := &es.Journal{AggregateID: aggregateID}
	var (
		after    es.Sequence
		startSeq uint64
	)
	if rec != nil {
		j.Snapshot = &rec.Snapshot
		after = rec.Sequence
		startSeq = rec.StreamSeq
	}
	lastSeq, err := lastSequenceOf(last.Header, last.Data)
	if err != nil {
		return nil, err
	}
	if lastSeq <= after {
		return j, nil
	}

	j.Events, err = c.loadEvents(ctx, subject, startSeq, last.Sequence, after)
	if err != nil {
		return nil, fmt.Errorf("load events of %s: %w", aggregateID, err)
	}
	return j, nil
}

// loadEvents reads the subject from stream sequence startSeq (from the
// beginning when zero) up to endSeq and returns the events after aggregate
// sequence after.
func (c *JetStreamConnector) loadEvents(ctx context.Context, subject string, startSeq, endSeq uint64, after es.Sequence) ([]es.Event, error) {
	events, fetched, err := c.fetchEvents(ctx, subject, startSeq, endSeq, after)
	if err != nil {
		return nil, err
	}
	c.log.Debug(
		"loaded events",
		slog.String("subject", subject),
		slog.Uint64("start_seq", startSeq),
		slog.Int("messages", fetched),
		slog.Int("count", len(events)),
	)
	return events, nil
}

// fetchEvents does the work of loadEvents and also reports how many stream
// messages it read.
func (c *JetStreamConnector) fetchEvents(ctx context.Context, subject string, startSeq, endSeq uint64, after es.Sequence) ([]es.Event, int, error) {
	consumerCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if startSeq > 0 {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = startSeq
	}
	cc, err := c.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, 0, err
	}

	var (
		events  []es.Event
		fetched int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fetched, err
		}
		mb, err := cc.Fetch(loadBatchSize, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			return nil, fetched, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			fetched++
			batch, err := decodeBatch(msg.Data())
			if err != nil {
				return nil, fetched, err
			}
			for _, e := range batch {
				if e.Sequence > after {
					events = append(events, e)
				}
			}

			md, err := msg.Metadata()
			if err != nil {
				return nil, fetched, err
			}
			if md.Sequence.Stream >= endSeq {
				return events, fetched, nil
			}
		}
		if err := mb.Error(); err != nil {
			return nil, fetched, err
		}
		if empty {
			return nil, fetched, fmt.Errorf("stream ended before sequence %d", endSeq)
		}
	}
}

func (c *JetStreamConnector) SaveEvents(ctx context.Context, inputs []es.EventInput) ([]es.Event, error) {
	aggregateID, err := es.ValidateEventInputs(inputs)
	if err != nil {
		return nil, err
	}
	subject := aggregateSubject(c.subjectPrefix, aggregateID)

	var (
		lastSeq       es.Sequence
		lastStreamSeq uint64
	)
	last, err := c.stream.GetLastMsgForSubject(ctx, subject)
	switch {
	case errors.Is(err, jetstream.ErrMsgNotFound):
	case err != nil:
		return nil, fmt.Errorf("get last message of %s: %w", aggregateID, err)
	default:
		lastStreamSeq = last.Sequence
		if lastSeq, err = lastSequenceOf(last.Header, last.Data); err != nil {
			return nil, err
		}
	}

	now := c.now().UTC()
	events := make([]es.Event, len(inputs))
	for i, in := range inputs {
		events[i] = es.Event{
			EventID:     gonanoid.Must(),
			EventType:   in.EventType,
			AggregateID: aggregateID,
			Sequence:    lastSeq + es.Sequence(i+1),
			OccurredAt:  now,
			Payload:     in.Payload,
		}
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerAggregateID, aggregateID)
	msg.Header.Set(headerEventCount, strconv.Itoa(len(events)))
	msg.Header.Set(headerLastSeq, strconv.FormatUint(events[len(events)-1].Sequence.Uint64(), 10))
	if msg.Data, err = json.Marshal(events); err != nil {
		return nil, err
	}

	_, err = c.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(events[0].EventID),
		jetstream.WithExpectLastSequencePerSubject(lastStreamSeq),
	)
	if err != nil {
		if isWrongLastSequence(err) {
			return nil, fmt.Errorf("%w: %s moved past sequence %d", es.ErrConcurrencyConflict, aggregateID, lastSeq)
		}
		return nil, fmt.Errorf("append to %s: %w", subject, err)
	}

	c.log.Debug(
		"saved events",
		slog.String("aggregate_id", aggregateID),
		slog.Int("count", len(events)),
		events[len(events)-1].Sequence.SlogAttrWithKey("last_seq"),
	)
	return events, nil
}

func (c *JetStreamConnector) SaveSnapshot(ctx context.Context, input es.SnapshotInput) error {
	if err := input.Validate(); err != nil {
		return err
	}
	subject := aggregateSubject(c.subjectPrefix, input.AggregateID)

	last, err := c.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return fmt.Errorf("%w: %s", es.ErrJournalNotFound, input.AggregateID)
		}
		return err
	}
	lastSeq, err := lastSequenceOf(last.Header, last.Data)
	if err != nil {
		return err
	}
	if input.Sequence > lastSeq {
		return fmt.Errorf("snapshot of %s at %d is ahead of the journal at %d", input.AggregateID, input.Sequence, lastSeq)
	}

	current, _, err := c.snapshots.get(ctx, input.AggregateID)
	if err != nil {
		return err
	}
	if current != nil && current.Sequence > input.Sequence {
		return nil
	}

	streamSeq, err := c.coveringMessage(ctx, subject, last, input.Sequence, current)
	if err != nil {
		return fmt.Errorf("locate sequence %d of %s: %w", input.Sequence, input.AggregateID, err)
	}

	return c.snapshots.put(ctx, snapshotRecord{
		Snapshot: es.Snapshot{
			SnapshotID:  gonanoid.Must(),
			AggregateID: input.AggregateID,
			Sequence:    input.Sequence,
			Payload:     input.Payload,
		},
		StreamSeq: streamSeq,
	})
}

// coveringMessage returns the stream sequence of the message on subject that
// holds event seq. Aggregates snapshot right after a save, so this is the
// last message in the common case. Otherwise the headers are scanned from the
// previous snapshot on.
func (c *JetStreamConnector) coveringMessage(ctx context.Context, subject string, last *jetstream.RawStreamMsg, seq es.Sequence, prev *snapshotRecord) (uint64, error) {
	if first, ok := firstSequenceOf(last.Header); ok && first <= seq {
		return last.Sequence, nil
	}

	consumerCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		HeadersOnly:    true,
	}
	if prev != nil && prev.StreamSeq > 0 && prev.Sequence <= seq {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = prev.StreamSeq
	}
	cc, err := c.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return 0, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mb, err := cc.Fetch(loadBatchSize, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			return 0, err
		}
		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return 0, err
			}
			if msgLast, ok := headerSequence(msg.Headers(), headerLastSeq); ok && msgLast >= seq {
				return md.Sequence.Stream, nil
			}
			if md.Sequence.Stream >= last.Sequence {
				return last.Sequence, nil
			}
		}
		if err := mb.Error(); err != nil {
			return 0, err
		}
		if empty {
			return 0, fmt.Errorf("stream ended before sequence %d", last.Sequence)
		}
	}
}

// Consume delivers every persisted event to m through a durable consumer.
// Delivery is at least once: a batch whose events are not all handled is
// redelivered. Stop the returned context to end consumption.
func (c *JetStreamConnector) Consume(ctx context.Context, durable string, m materializer.Materializer) (jetstream.ConsumeContext, error) {
	consumer, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: c.subjectPrefix + ".>",
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	log := c.log.With(slog.String("consumer", durable))
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		batch, err := decodeBatch(msg.Data())
		if err != nil {
			log.Error("failed to decode message", slog.Any("error", err))
			_ = msg.Term()
			return
		}
		for _, e := range batch {
			if err := m.Handle(ctx, e); err != nil {
				log.Warn("materializer failed, redelivering", e.SlogAttr(), slog.Any("error", err))
				_ = msg.Nak()
				return
			}
		}
		if err := msg.Ack(); err != nil {
			log.Error("failed to ack message", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, cc.Stop)
	return cc, nil
}

func decodeBatch(data []byte) ([]es.Event, error) {
	var events []es.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	return events, nil
}

func lastSequenceOf(h natsgo.Header, data []byte) (es.Sequence, error) {
	if seq, ok := headerSequence(h, headerLastSeq); ok {
		return seq, nil
	}
	batch, err := decodeBatch(data)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, errors.New("empty event batch")
	}
	return batch[len(batch)-1].Sequence, nil
}

// firstSequenceOf derives the sequence of the first event in a batch message
// from its headers.
func firstSequenceOf(h natsgo.Header) (es.Sequence, bool) {
	last, ok := headerSequence(h, headerLastSeq)
	if !ok {
		return 0, false
	}
	count, err := strconv.ParseUint(h.Get(headerEventCount), 10, 64)
	if err != nil || count == 0 || es.Sequence(count) > last {
		return 0, false
	}
	return last - es.Sequence(count) + 1, true
}

func headerSequence(h natsgo.Header, key string) (es.Sequence, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return es.Sequence(seq), true
}

var (
	_ es.JournalConnector = (*JetStreamConnector)(nil)
	_ es.Closer           = (*JetStreamConnector)(nil)
)
