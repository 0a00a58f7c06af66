package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/tree"
)

// ErrNotObject is returned when a partial update targets a value that is not
// a JSON object.
var ErrNotObject = errors.New("value is not an object")

// Tree is the SQLite implementation of tree.Store. Every stored value is one
// row in the nodes table keyed by its full path.
type Tree struct {
	db    *sql.DB
	hub   *tree.Hub
	relay tree.Relay
	log   *logger.Logger
}

var _ tree.Store = (*Tree)(nil)

// NewTree returns a tree over db with its own subscription hub.
func NewTree(db *sql.DB, log *logger.Logger) *Tree {
	if log == nil {
		log = logger.Nop()
	}
	t := &Tree{db: db, log: log}
	t.hub = tree.NewHub(t.Get, log)
	return t
}

// Hub returns the hub notified after every write.
func (t *Tree) Hub() *tree.Hub {
	return t.hub
}

// SetRelay makes every write also publish its path on r. It must be called
// before the tree is shared.
func (t *Tree) SetRelay(r tree.Relay) {
	t.relay = r
}

// Close ends all subscriptions.
func (t *Tree) Close() {
	t.hub.Close()
}

// subtree matches path and every path below it.
func subtree(path string) sq.Sqlizer {
	return sq.Or{
		sq.Eq{"path": path},
		sq.And{
			sq.GtOrEq{"path": path + "/"},
			sq.Lt{"path": path + "0"}, // '0' sorts right after '/'
		},
	}
}

// ancestors returns the proper ancestors of path, nearest last.
func ancestors(path string) []string {
	var out []string
	for p := tree.Parent(path); p != ""; p = tree.Parent(p) {
		out = append([]string{p}, out...)
	}
	return out
}

// Get reads the subtree rooted at path in key order.
func (t *Tree) Get(ctx context.Context, path string) (tree.Snapshot, error) {
	path, err := tree.Clean(path)
	if err != nil {
		return tree.Snapshot{}, err
	}

	query, args, err := sq.Select("path", "value").
		From("nodes").
		Where(subtree(path)).
		OrderBy("path").
		ToSql()
	if err != nil {
		return tree.Snapshot{}, fmt.Errorf("building query: %w", err)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return tree.Snapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	defer rows.Close()

	snap := tree.Snapshot{Path: path}
	for rows.Next() {
		var (
			p     string
			value string
		)
		if err := rows.Scan(&p, &value); err != nil {
			return tree.Snapshot{}, fmt.Errorf("scanning node: %w", err)
		}
		snap.Records = append(snap.Records, tree.Record{
			Path:  p,
			Rel:   strings.TrimPrefix(strings.TrimPrefix(p, path), "/"),
			Value: json.RawMessage(value),
		})
	}
	if err := rows.Err(); err != nil {
		return tree.Snapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return snap, nil
}

// Set writes value at path, replacing the subtree below it and any ancestor
// that held a value. A nil value removes the path.
func (t *Tree) Set(ctx context.Context, path string, value any) error {
	if value == nil {
		return t.Remove(ctx, path)
	}
	path, err := tree.Clean(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	err = t.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearSubtree(ctx, tx, path); err != nil {
			return err
		}
		return put(ctx, tx, path, data)
	})
	if err != nil {
		return fmt.Errorf("setting %s: %w", path, err)
	}

	t.notify(ctx, path)
	return nil
}

// Update merges fields into the object at path. Nil field values delete the
// field. The object is created when absent.
func (t *Tree) Update(ctx context.Context, path string, fields map[string]any) error {
	return t.update(ctx, path, fields, false)
}

// UpdateExisting is Update for an object that must already exist. The check
// and the write share one transaction, so a concurrent Remove cannot be
// undone by it.
func (t *Tree) UpdateExisting(ctx context.Context, path string, fields map[string]any) error {
	return t.update(ctx, path, fields, true)
}

func (t *Tree) update(ctx context.Context, path string, fields map[string]any, mustExist bool) error {
	path, err := tree.Clean(path)
	if err != nil {
		return err
	}

	err = t.withTx(ctx, func(tx *sql.Tx) error {
		obj := map[string]any{}

		var current string
		err := tx.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, path).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if mustExist {
				return tree.ErrNotExist
			}
		case err != nil:
			return fmt.Errorf("reading current value: %w", err)
		default:
			if err := json.Unmarshal([]byte(current), &obj); err != nil || obj == nil {
				return ErrNotObject
			}
		}

		for k, v := range fields {
			if v == nil {
				delete(obj, k)
				continue
			}
			obj[k] = v
		}

		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encoding value: %w", err)
		}
		if err := clearAncestors(ctx, tx, path); err != nil {
			return err
		}
		return put(ctx, tx, path, data)
	})
	if err != nil {
		return fmt.Errorf("updating %s: %w", path, err)
	}

	t.notify(ctx, path)
	return nil
}

// Remove deletes path and everything below it. Removing a missing path is
// not an error.
func (t *Tree) Remove(ctx context.Context, path string) error {
	path, err := tree.Clean(path)
	if err != nil {
		return err
	}

	query, args, err := sq.Delete("nodes").Where(subtree(path)).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}

	t.notify(ctx, path)
	return nil
}

// Push writes value under parent with a time-ordered generated key.
func (t *Tree) Push(ctx context.Context, parent string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	key := id.String()

	path, err := tree.Join(parent, key)
	if err != nil {
		return "", err
	}
	if err := t.Set(ctx, path, value); err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe delivers snapshots of path until ctx ends or the subscription
// is closed.
func (t *Tree) Subscribe(ctx context.Context, path string) (*tree.Subscription, error) {
	return t.hub.Subscribe(ctx, path)
}

func (t *Tree) notify(ctx context.Context, path string) {
	t.hub.Notify(path)
	if t.relay == nil {
		return
	}
	if err := t.relay.Publish(ctx, path); err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("failed to relay change")
	}
}

func (t *Tree) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// clearSubtree removes the subtree at path and any value held by its ancestors.
func clearSubtree(ctx context.Context, tx *sql.Tx, path string) error {
	query, args, err := sq.Delete("nodes").Where(subtree(path)).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing subtree: %w", err)
	}
	return clearAncestors(ctx, tx, path)
}

func clearAncestors(ctx context.Context, tx *sql.Tx, path string) error {
	parents := ancestors(path)
	if len(parents) == 0 {
		return nil
	}
	query, args, err := sq.Delete("nodes").Where(sq.Eq{"path": parents}).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing ancestors: %w", err)
	}
	return nil
}

func put(ctx context.Context, tx *sql.Tx, path string, data []byte) error {
	query, args, err := sq.Insert("nodes").
		Columns("path", "value").
		Values(path, string(data)).
		Suffix("ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP").
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing node: %w", err)
	}
	return nil
}
