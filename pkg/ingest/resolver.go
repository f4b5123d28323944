// Package ingest loads normalized upload batches into the ledger under a duplicate policy.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/config"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
)

// Policy decides what happens to rows whose key is already stored.
type Policy string

const (
	// PolicySkip discards rows whose key exists.
	PolicySkip Policy = "skip"
	// PolicyUpdate overwrites the stored row with the uploaded values.
	PolicyUpdate Policy = "update"
	// PolicyAddAll appends every row, permitting duplicate keys.
	PolicyAddAll Policy = "add-all"
)

// DefaultKeyColumn is used when no key column is given.
const DefaultKeyColumn = "std_identifier"

// ParsePolicy accepts the policy names and their dashboard labels.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "skip duplicates", "skip-duplicates":
		return PolicySkip, nil
	case "update", "update existing", "update-existing":
		return PolicyUpdate, nil
	case "add-all", "add all", "addall", "add_all":
		return PolicyAddAll, nil
	}
	return "", &ValidationError{Column: "policy", Value: s, Reason: "expected skip, update or add-all"}
}

// ErrValidation is matched by every ValidationError.
var ErrValidation = ledger.ErrValidation

// ValidationError rejects an upload before anything is written.
type ValidationError = ledger.ValidationError

// Options selects the duplicate policy and key column of an upload.
type Options struct {
	Policy    Policy
	KeyColumn string
}

// Result reports what an upload did.
type Result struct {
	BatchID   string `json:"batch_id"`
	Filename  string `json:"filename,omitempty"`
	Policy    Policy `json:"policy"`
	KeyColumn string `json:"key_column"`
	TotalRows int    `json:"total_rows"`
	// Inserted counts appended rows.
	Inserted int `json:"inserted"`
	// Duplicates counts rows whose key was already stored, or repeated earlier in a Skip batch.
	Duplicates int `json:"duplicates"`
	// Updated counts stored rows overwritten by the Update policy.
	Updated int `json:"updated"`
	// Superseded counts new-key rows replaced by a later row with the same key in the batch.
	Superseded int            `json:"superseded"`
	Columns    []string       `json:"columns"`
	Dropped    []string       `json:"dropped_columns,omitempty"`
	Coerced    map[string]int `json:"coerced_to_null,omitempty"`
	Notes      []string       `json:"notes,omitempty"`
}

// Store runs writes inside a single transaction.
type Store interface {
	InTx(ctx context.Context, fn func(db.Writer) error) error
}

// Resolver applies a duplicate policy to a batch.
type Resolver struct {
	store         Store
	lookupFailure string
}

// NewResolver creates a Resolver. lookupFailure is config.LookupFail or config.LookupAssumeNone.
func NewResolver(store Store, lookupFailure string) *Resolver {
	if lookupFailure == "" {
		lookupFailure = config.LookupFail
	}
	return &Resolver{store: store, lookupFailure: lookupFailure}
}

// Resolve writes the batch in one transaction. Nothing is written when it returns an error.
func (r *Resolver) Resolve(ctx context.Context, batch ledger.Batch, opts Options) (*Result, error) {
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = DefaultKeyColumn
	}
	opts.KeyColumn = strings.ToLower(strings.TrimSpace(opts.KeyColumn))

	result := &Result{
		BatchID:   uuid.NewString(),
		Policy:    opts.Policy,
		KeyColumn: opts.KeyColumn,
		TotalRows: len(batch.Records),
		Columns:   batch.Columns,
	}

	if opts.Policy != PolicyAddAll && !ledger.IsKeyColumn(opts.KeyColumn) {
		return nil, &ValidationError{
			Column: "key column",
			Value:  opts.KeyColumn,
			Reason: "expected one of " + strings.Join(ledger.KeyColumns, ", "),
		}
	}

	log := logger.FromContext(ctx).With().
		Str("batch_id", result.BatchID).
		Str("policy", string(opts.Policy)).
		Str("key_column", opts.KeyColumn).
		Int("rows", result.TotalRows).
		Logger()

	var err error
	switch opts.Policy {
	case PolicyAddAll:
		err = r.store.InTx(ctx, func(w db.Writer) error {
			n, err := w.Insert(ctx, batch.Columns, batch.Records, true)
			result.Inserted = int(n)
			return err
		})
	case PolicySkip:
		err = r.store.InTx(ctx, func(w db.Writer) error {
			return r.skip(ctx, w, batch, opts.KeyColumn, result)
		})
	case PolicyUpdate:
		if !batch.HasColumn(opts.KeyColumn) {
			return nil, &ValidationError{
				Column: "key column",
				Value:  opts.KeyColumn,
				Reason: "not present in the uploaded file; the update policy needs it to match stored rows",
			}
		}
		err = r.store.InTx(ctx, func(w db.Writer) error {
			return r.update(ctx, w, batch, opts.KeyColumn, result)
		})
	default:
		return nil, &ValidationError{Column: "policy", Value: string(opts.Policy), Reason: "expected skip, update or add-all"}
	}
	if err != nil {
		log.Error().Err(err).Msg("upload rolled back")
		return nil, err
	}

	log.Info().
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("updated", result.Updated).
		Int("superseded", result.Superseded).
		Msg("upload committed")

	return result, nil
}

func (r *Resolver) skip(ctx context.Context, w db.Writer, batch ledger.Batch, key string, result *Result) error {
	if !batch.HasColumn(key) {
		result.Notes = append(result.Notes,
			fmt.Sprintf("key column %q not present in upload; all rows appended without duplicate checks", key))
		n, err := w.Insert(ctx, batch.Columns, batch.Records, false)
		result.Inserted = int(n)
		return err
	}

	existing, err := r.existingKeys(ctx, w, key, distinctKeys(batch.Records, key), false, result)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	fresh := make([]ledger.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		k, ok := rec.Key(key)
		if !ok {
			fresh = append(fresh, rec)
			continue
		}
		if existing[k] || seen[k] {
			result.Duplicates++
			continue
		}
		seen[k] = true
		fresh = append(fresh, rec)
	}

	n, err := w.Insert(ctx, batch.Columns, fresh, false)
	result.Inserted = int(n)
	return err
}

func (r *Resolver) update(ctx context.Context, w db.Writer, batch ledger.Batch, key string, result *Result) error {
	// Keys held only by add-all rows cannot be upserted; those rows are inserted as new.
	existing, err := r.existingKeys(ctx, w, key, distinctKeys(batch.Records, key), true, result)
	if err != nil {
		return err
	}

	var fresh, stale []ledger.Record
	freshAt := make(map[string]int)
	staleAt := make(map[string]int)

	for _, rec := range batch.Records {
		k, ok := rec.Key(key)
		switch {
		case !ok:
			fresh = append(fresh, rec)
		case existing[k]:
			result.Duplicates++
			if i, seen := staleAt[k]; seen {
				stale[i] = rec
				continue
			}
			staleAt[k] = len(stale)
			stale = append(stale, rec)
		default:
			if i, seen := freshAt[k]; seen {
				fresh[i] = rec
				result.Superseded++
				continue
			}
			freshAt[k] = len(fresh)
			fresh = append(fresh, rec)
		}
	}

	n, err := w.Insert(ctx, batch.Columns, fresh, false)
	if err != nil {
		return err
	}
	result.Inserted = int(n)

	if len(stale) > 0 {
		n, err := w.Upsert(ctx, key, batch.Columns, stale)
		if err != nil {
			return err
		}
		result.Updated = int(n)
	}
	return nil
}

// existingKeys is the single place that decides what a failed key lookup means.
func (r *Resolver) existingKeys(ctx context.Context, w db.Writer, key string, keys []string, upsertable bool, result *Result) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}

	found, err := w.ExistingKeys(ctx, key, keys, upsertable)
	if err == nil {
		return found, nil
	}

	if r.lookupFailure == config.LookupAssumeNone {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key_column", key).Msg("existing-key lookup failed; treating every key as new")
		result.Notes = append(result.Notes, "existing-key lookup failed; duplicates were not checked")
		return map[string]bool{}, nil
	}

	return nil, err
}

func distinctKeys(records []ledger.Record, key string) []string {
	seen := make(map[string]bool)
	var keys []string
	for i := range records {
		k, ok := records[i].Key(key)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
