package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "session/"

// BadgerStore persists sessions in a BadgerDB directory, msgpack encoded.
type BadgerStore struct {
	db *badger.DB
}

type badgerConfig struct {
	inMemory bool
	logger   *slog.Logger
}

// BadgerOption configures NewBadgerStore.
type BadgerOption func(*badgerConfig)

// WithInMemory runs badger without touching disk.
func WithInMemory() BadgerOption {
	return func(c *badgerConfig) { c.inMemory = true }
}

// WithLogger routes badger's internal logging to logger.
func WithLogger(logger *slog.Logger) BadgerOption {
	return func(c *badgerConfig) { c.logger = logger }
}

func NewBadgerStore(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	cfg := badgerConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.inMemory && strings.TrimSpace(dir) == "" {
		return nil, errors.New("session store dir is required")
	}
	dbOpts := badger.DefaultOptions(dir).WithLogger(slogBadger{l: cfg.logger.With("component", "badger")})
	if cfg.inMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Get(_ context.Context, key string) (Session, error) {
	var s Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &s)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", key, err)
	}
	return s, nil
}

func (b *BadgerStore) Put(_ context.Context, s Session) error {
	val, err := msgpack.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key(), err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+s.Key()), val)
	})
}

func (b *BadgerStore) List(_ context.Context) ([]Session, error) {
	var out []Session
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s Session
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// slogBadger adapts slog to badger.Logger. Badger's info chatter is
// demoted to debug.
type slogBadger struct {
	l *slog.Logger
}

func (s slogBadger) Errorf(format string, args ...any) {
	s.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogBadger) Warningf(format string, args ...any) {
	s.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogBadger) Infof(format string, args ...any) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogBadger) Debugf(format string, args ...any) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
