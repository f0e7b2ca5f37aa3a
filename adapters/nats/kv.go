package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/eventum-go/core/es"
)

const maxSnapshotWriteAttempts = 5

// snapshotRecord is a snapshot plus the stream sequence of the message
// holding the event at the snapshot's sequence. Loading starts there.
type snapshotRecord struct {
	es.Snapshot
	StreamSeq uint64 `json:"streamSeq,omitempty"`
}

// snapshotStore keeps the latest snapshot of each aggregate in a KV bucket.
type snapshotStore struct {
	kv jetstream.KeyValue
}

func newSnapshotStore(ctx context.Context, js jetstream.JetStream, bucket string) (*snapshotStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "eventum aggregate snapshots",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure snapshot bucket %s: %w", bucket, err)
	}
	return &snapshotStore{kv: kv}, nil
}

func (s *snapshotStore) get(ctx context.Context, aggregateID string) (*snapshotRecord, uint64, error) {
	entry, err := s.kv.Get(ctx, aggregateToken(aggregateID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("get snapshot of %s: %w", aggregateID, err)
	}
	var rec snapshotRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot of %s: %w", aggregateID, err)
	}
	return &rec, entry.Revision(), nil
}

// put stores rec unless a snapshot at a higher sequence is already there.
func (s *snapshotStore) put(ctx context.Context, rec snapshotRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := aggregateToken(rec.AggregateID)

	for range maxSnapshotWriteAttempts {
		current, rev, err := s.get(ctx, rec.AggregateID)
		if err != nil {
			return err
		}
		switch {
		case current == nil:
			_, err = s.kv.Create(ctx, key, data)
		case current.Sequence > rec.Sequence:
			return nil
		default:
			_, err = s.kv.Update(ctx, key, data, rev)
		}
		if err == nil || !isWriteConflict(err) {
			return err
		}
	}
	return fmt.Errorf("save snapshot of %s: too many concurrent writers", rec.AggregateID)
}

func isWriteConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return isWrongLastSequence(err)
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
