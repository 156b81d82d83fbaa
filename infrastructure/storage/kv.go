package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"social-lab/contract"
	"social-lab/errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// sequenceBandwidth is the number of ids leased from badger at once.
// Unused leased ids are lost on restart, ids stay monotonic.
const sequenceBandwidth = 100

// KV implements contract.Store on top of BadgerDB.
// Values are JSON documents, every call is bounded by timeout.
type KV struct {
	db      *badger.DB
	log     *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	sequences map[string]*badger.Sequence
}

func NewKV(db *badger.DB, log *slog.Logger, timeout time.Duration) *KV {
	return &KV{
		db:        db,
		log:       log,
		timeout:   timeout,
		sequences: make(map[string]*badger.Sequence),
	}
}

// View runs fn against a consistent snapshot.
func (k *KV) View(ctx context.Context, fn func(tx contract.Txn) error) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	txn := k.db.NewTransaction(false)
	defer txn.Discard()
	return k.translate(fn(&badgerTxn{ctx: ctx, txn: txn}))
}

// Update runs fn in a read-write transaction. Nothing is committed when fn fails
// or when the timeout expired before the commit.
func (k *KV) Update(ctx context.Context, fn func(tx contract.Txn) error) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	txn := k.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&badgerTxn{ctx: ctx, txn: txn}); err != nil {
		return k.translate(err)
	}
	if err := ctx.Err(); err != nil {
		return k.translate(err)
	}
	return k.translate(txn.Commit())
}

// NextID returns the next value of a named monotonic sequence, starting at 1.
func (k *KV) NextID(ctx context.Context, sequence string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, k.translate(err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	seq, ok := k.sequences[sequence]
	if !ok {
		var err error
		seq, err = k.db.GetSequence([]byte("seq:"+sequence), sequenceBandwidth)
		if err != nil {
			return 0, k.translate(err)
		}
		k.sequences[sequence] = seq
	}
	for {
		id, err := seq.Next()
		if err != nil {
			return 0, k.translate(err)
		}
		// Badger sequences start at zero, zero is reserved for "no message".
		if id > 0 {
			return id, nil
		}
	}
}

// Close releases leased sequence ranges. The database itself is owned by the caller.
func (k *KV) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for name, seq := range k.sequences {
		if err := seq.Release(); err != nil {
			k.log.Warn("Unable to release sequence", "sequence", name, "error", err)
		}
	}
	k.sequences = make(map[string]*badger.Sequence)
}

// translate maps storage failures onto retryable application errors.
// Business errors returned by callbacks pass through untouched.
func (k *KV) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		k.log.Warn("Store operation timed out", "error", err)
		return errors.Wrap(errors.ErrStoreTimeout, err)
	case stderrors.Is(err, badger.ErrConflict),
		stderrors.Is(err, badger.ErrDBClosed),
		stderrors.Is(err, badger.ErrTxnTooBig),
		stderrors.Is(err, badger.ErrBlockedWrites):
		k.log.Warn("Store unavailable", "error", err)
		return errors.Wrap(errors.ErrStoreUnavailable, err)
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	k.log.Error("Store failure", "error", err)
	return errors.Wrap(errors.ErrStoreUnavailable, err)
}

type badgerTxn struct {
	ctx context.Context
	txn *badger.Txn
}

func (t *badgerTxn) Get(key string, out any) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	item, err := t.txn.Get([]byte(key))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decode(key, val, out)
	})
}

func (t *badgerTxn) Has(key string) (bool, error) {
	if err := t.ctx.Err(); err != nil {
		return false, err
	}
	_, err := t.txn.Get([]byte(key))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *badgerTxn) Set(key string, value any) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return t.txn.Set([]byte(key), bytes)
}

func (t *badgerTxn) Delete(key string) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.txn.Delete([]byte(key))
}

// Scan walks the keys of a prefix. In reverse mode the default seek position is
// the prefix followed by 0xFF so that the iterator lands on the last key of the prefix.
func (t *badgerTxn) Scan(opts contract.ScanOptions, fn func(key string, value contract.Decoder) (bool, error)) error {
	options := badger.DefaultIteratorOptions
	options.Reverse = opts.Reverse
	options.Prefix = []byte(opts.Prefix)
	it := t.txn.NewIterator(options)
	defer it.Close()

	prefix := []byte(opts.Prefix)
	seek := []byte(opts.Seek)
	if opts.Seek == "" {
		seek = prefix
		if opts.Reverse {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
	}

	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		key := string(item.KeyCopy(nil))
		next, err := fn(key, func(out any) error {
			return item.Value(func(val []byte) error {
				return decode(key, val, out)
			})
		})
		if err != nil {
			return err
		}
		if !next {
			return nil
		}
	}
	return nil
}

func decode(key string, val []byte, out any) error {
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
