package backend

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/odvcencio/babel/pkg/nstore"
	"github.com/odvcencio/babel/pkg/object"
)

// edgeIndex is the badger-backed edge set of a v1 store. The dependencies
// files under objects/ are authoritative; the index answers "who depends
// on h" without walking the tree and can be rebuilt from them.
type edgeIndex struct {
	db    *badger.DB
	edges *nstore.Store
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func openEdgeIndex(path string, logger *slog.Logger) (*edgeIndex, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")}).
		WithNumVersionsToKeep(1).
		// The index holds only hash pairs.
		WithMemTableSize(4 << 20).
		WithValueThreshold(1 << 10).
		WithValueLogFileSize(16 << 20).
		WithNumCompactors(2)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open edge index: %v", object.ErrBackendUnavailable, err)
	}
	return &edgeIndex{
		db:    db,
		edges: nstore.New(2, nstore.WithPrefix("edge")),
	}, nil
}

// replace swaps the outgoing edges of from for deps in one transaction.
func (x *edgeIndex) replace(from object.Hash, deps []object.Hash) error {
	return x.db.Update(func(txn *badger.Txn) error {
		kv := nstore.NewBadgerKV(txn)
		var stale []string
		for tuple, err := range x.edges.Select(kv, string(from), nstore.Var("to")) {
			if err != nil {
				return err
			}
			stale = append(stale, tuple[1].(string))
		}
		for _, to := range stale {
			if err := x.edges.Delete(kv, string(from), to); err != nil {
				return err
			}
		}
		for _, to := range deps {
			if err := x.edges.Add(kv, string(from), string(to)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *edgeIndex) dependents(to object.Hash) ([]object.Hash, error) {
	var out []object.Hash
	err := x.db.View(func(txn *badger.Txn) error {
		for tuple, err := range x.edges.Select(nstore.NewBadgerKV(txn), nstore.Var("from"), string(to)) {
			if err != nil {
				return err
			}
			out = append(out, object.Hash(tuple[0].(string)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("edge index: %w", err)
	}
	return out, nil
}

func (x *edgeIndex) reset() error {
	return x.db.DropAll()
}

func (x *edgeIndex) close() error {
	return x.db.Close()
}
