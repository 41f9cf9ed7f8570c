package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

const (
	metaValue byte = 0x01
	metaList  byte = 0x02

	maxConflictRetries = 5
	gcInterval         = 5 * time.Minute
	gcDiscardRatio     = 0.5
)

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// ReadOnly opens an existing database without taking the write lock;
	// every write fails.
	ReadOnly bool
	Logger   *slog.Logger
}

// Badger is a durable Store backed by an embedded badger database. TTLs map
// onto badger entry expiry; lists are stored as a single JSON-encoded value
// marked through the entry's user meta byte.
type Badger struct {
	db       *badger.DB
	inMemory bool
	readOnly bool
	logger   *slog.Logger
}

// OpenBadger opens (or creates) a badger database.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else if opts.ReadOnly {
		bopts = bopts.WithReadOnly(true)
	}
	bopts = bopts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open badger at %q", opts.Dir)
	}
	return &Badger{db: db, inMemory: opts.InMemory, readOnly: opts.ReadOnly, logger: logger}, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return errors.Wrap(err, "store: transaction kept conflicting")
}

func newEntry(key string, value []byte, meta byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value).WithMeta(meta)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// remaining returns the time left before item expires, or 0 for no expiry.
func remaining(item *badger.Item) time.Duration {
	exp := item.ExpiresAt()
	if exp == 0 {
		return 0
	}
	left := time.Until(time.Unix(int64(exp), 0))
	if left < time.Second {
		left = time.Second
	}
	return left
}

func readList(item *badger.Item) ([][]byte, error) {
	if item.UserMeta() != metaList {
		return nil, ErrWrongType
	}
	var list [][]byte
	err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &list)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "store: decode list %q", item.Key())
	}
	return list, nil
}

func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, metaValue, ttl))
	})
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if item.UserMeta() == metaList {
			return ErrWrongType
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// MGet reads every key inside a single read transaction.
func (b *Badger) MGet(_ context.Context, keys []string) []Lookup {
	out := make([]Lookup, len(keys))
	for i, k := range keys {
		out[i].Key = k
	}
	err := b.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get([]byte(k))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				out[i].Err = ErrNotFound
			case err != nil:
				out[i].Err = err
			case item.UserMeta() == metaList:
				out[i].Err = ErrWrongType
			default:
				out[i].Value, out[i].Err = item.ValueCopy(nil)
			}
		}
		return nil
	})
	if err != nil {
		for i := range out {
			if out[i].Err == nil && out[i].Value == nil {
				out[i].Err = err
			}
		}
	}
	return out
}

func (b *Badger) Delete(_ context.Context, key string) error {
	return b.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *Badger) LPush(_ context.Context, key string, values ...[]byte) error {
	return b.update(func(txn *badger.Txn) error {
		var (
			list [][]byte
			ttl  time.Duration
		)
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if list, err = readList(item); err != nil {
				return err
			}
			ttl = remaining(item)
		}
		encoded, err := json.Marshal(prepend(list, values))
		if err != nil {
			return errors.Wrapf(err, "store: encode list %q", key)
		}
		return txn.SetEntry(newEntry(key, encoded, metaList, ttl))
	})
}

func (b *Badger) LTrim(_ context.Context, key string, start, stop int) error {
	return b.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		list, err := readList(item)
		if err != nil {
			return err
		}
		lo, hi := span(len(list), start, stop)
		if lo == hi {
			return txn.Delete([]byte(key))
		}
		encoded, err := json.Marshal(list[lo:hi])
		if err != nil {
			return errors.Wrapf(err, "store: encode list %q", key)
		}
		return txn.SetEntry(newEntry(key, encoded, metaList, remaining(item)))
	})
}

func (b *Badger) LRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	var out [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		list, err := readList(item)
		if err != nil {
			return err
		}
		lo, hi := span(len(list), start, stop)
		out = list[lo:hi]
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return out, err
}

// Expire rewrites the entry with a fresh TTL; badger has no in-place expiry
// update.
func (b *Badger) Expire(_ context.Context, key string, ttl time.Duration) error {
	err := b.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(newEntry(key, value, item.UserMeta(), ttl))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// Keys scans the literal prefix of pattern and filters with Match.
func (b *Badger) Keys(_ context.Context, pattern string) ([]string, error) {
	prefix := []byte(literalPrefix(pattern))
	out := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			if Match(pattern, k) {
				out = append(out, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: scan keys")
	}
	sort.Strings(out)
	return out, nil
}

// Run performs periodic value-log garbage collection until ctx is cancelled.
// In-memory and read-only databases are never collected, so Run returns
// immediately.
func (b *Badger) Run(ctx context.Context) {
	if b.inMemory || b.readOnly {
		return
	}
	t := time.NewTicker(gcInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			lsm, vlog := b.db.Size()
			b.logger.Debug("store: running value log gc", "lsm_size", lsm, "vlog_size", vlog)
			if err := b.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Error("store: value log gc failed", "err", err)
			}
		}
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
