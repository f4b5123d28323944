package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/normalize"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/tabular"
)

// History records committed uploads.
type History interface {
	RecordUpload(ctx context.Context, record db.UploadRecord) error
}

// Uploader runs the upload pipeline: read, normalize, resolve, record.
type Uploader struct {
	normalizer *normalize.Normalizer
	resolver   *Resolver
	history    History
	now        func() time.Time
}

// NewUploader creates an Uploader. history may be nil.
func NewUploader(normalizer *normalize.Normalizer, resolver *Resolver, history History) *Uploader {
	return &Uploader{
		normalizer: normalizer,
		resolver:   resolver,
		history:    history,
		now:        time.Now,
	}
}

// Upload reads the whole file, normalizes it and writes it under opts.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader, opts Options) (*Result, error) {
	table, err := readTable(filename, r)
	if err != nil {
		return nil, err
	}

	batch, stats := u.normalizer.Normalize(table)

	log := logger.FromContext(ctx).With().Str("filename", filename).Logger()
	if len(batch.Dropped) > 0 {
		log.Debug().Strs("dropped", batch.Dropped).Msg("ignoring unknown columns")
	}
	for col, n := range stats.Coerced {
		log.Debug().Str("column", col).Int("cells", n).Msg("unparseable values stored as null")
	}

	result, err := u.resolver.Resolve(logger.WithContext(ctx, log), batch, opts)
	if err != nil {
		return nil, err
	}
	result.Filename = filename
	result.Dropped = batch.Dropped
	if len(stats.Coerced) > 0 {
		result.Coerced = stats.Coerced
	}

	if u.history != nil {
		record := db.UploadRecord{
			BatchID:    result.BatchID,
			Filename:   filename,
			Policy:     string(result.Policy),
			KeyColumn:  result.KeyColumn,
			TotalRows:  result.TotalRows,
			Inserted:   result.Inserted,
			Duplicates: result.Duplicates,
			Updated:    result.Updated,
			UploadedAt: u.now(),
		}
		if err := u.history.RecordUpload(ctx, record); err != nil {
			log.Warn().Err(err).Str("batch_id", result.BatchID).Msg("upload committed but not recorded in history")
		}
	}

	return result, nil
}

// Preview describes an upload without writing it.
type Preview struct {
	Filename string     `json:"filename"`
	Rows     int        `json:"rows"`
	Columns  int        `json:"columns"`
	Header   []string   `json:"header"`
	Sample   [][]string `json:"sample"`
	Mapped   []string   `json:"mapped_columns"`
	Dropped  []string   `json:"dropped_columns,omitempty"`
}

// Preview returns file statistics, the canonical columns it maps to and its first n rows.
func (u *Uploader) Preview(filename string, r io.Reader, n int) (*Preview, error) {
	table, err := readTable(filename, r)
	if err != nil {
		return nil, err
	}

	batch, _ := u.normalizer.Normalize(table)

	if n < 0 {
		n = 0
	}
	n = min(n, len(table.Rows))

	return &Preview{
		Filename: filename,
		Rows:     len(table.Rows),
		Columns:  len(table.Header),
		Header:   table.Header,
		Sample:   table.Rows[:n],
		Mapped:   batch.Columns,
		Dropped:  batch.Dropped,
	}, nil
}

func readTable(filename string, r io.Reader) (*tabular.Table, error) {
	table, err := tabular.Read(filename, r)
	if err == nil {
		return table, nil
	}
	reason := err.Error()
	if errors.Is(err, tabular.ErrUnsupportedFormat) {
		reason = "unsupported file type (expected .csv or .xlsx)"
	}
	return nil, &ValidationError{Column: "file", Value: filename, Reason: reason}
}
