package vault

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"gas/internal/config"
	"gas/internal/objectstore"
	"gas/internal/services"
	"gas/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

var schema = sqlitedb.Schema{Name: "vault", Version: 1, SQL: schemaSQL}

const (
	archivePrefix   = "archives/"
	retrievalPrefix = "retrievals/"
)

// Local keeps archive bodies in an object-store bucket and the catalog of
// archives and retrievals in SQLite.
type Local struct {
	name     string
	db       *sqlitedb.DB
	objects  objectstore.Store
	bucket   string
	latency  map[Tier]time.Duration
	capacity map[Tier]int
	now      func() time.Time
}

var _ Vault = (*Local)(nil)

// Options configures a Local vault.
type Options struct {
	Name        string
	CatalogPath string
	Bucket      string
	Latency     map[Tier]time.Duration
	// Capacity caps in-progress retrievals per tier; zero means unlimited.
	Capacity map[Tier]int
	// Now overrides the clock.
	Now func() time.Time
}

// OptionsFromConfig maps the [vault] section.
func OptionsFromConfig(cfg *config.Config) Options {
	v := cfg.Vault
	return Options{
		Name:        v.Name,
		CatalogPath: v.CatalogPath,
		Bucket:      v.Bucket,
		Latency: map[Tier]time.Duration{
			TierExpedited: time.Duration(v.ExpeditedSeconds) * time.Second,
			TierStandard:  time.Duration(v.StandardSeconds) * time.Second,
			TierBulk:      time.Duration(v.BulkSeconds) * time.Second,
		},
		Capacity: map[Tier]int{
			TierExpedited: v.ExpeditedCapacity,
			TierStandard:  v.StandardCapacity,
		},
	}
}

// OpenLocal opens the catalog and ensures the archive bucket exists.
func OpenLocal(ctx context.Context, objects objectstore.Store, opts Options) (*Local, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "vault", "open", "vault bucket is required", nil)
	}
	if err := objects.EnsureBucket(ctx, opts.Bucket); err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(ctx, opts.CatalogPath, schema)
	if err != nil {
		return nil, fmt.Errorf("open vault catalog: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	name := opts.Name
	if name == "" {
		name = "gas"
	}
	return &Local{
		name:     name,
		db:       db,
		objects:  objects,
		bucket:   opts.Bucket,
		latency:  opts.Latency,
		capacity: opts.Capacity,
		now:      now,
	}, nil
}

// Close closes the catalog.
func (v *Local) Close() error {
	if v == nil || v.db == nil {
		return nil
	}
	return v.db.Close()
}

func (v *Local) Archive(ctx context.Context, r io.Reader, size int64, description string) (string, error) {
	archiveID := uuid.NewString()
	if err := v.objects.Put(ctx, v.bucket, archivePrefix+archiveID, r, size); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if size < 0 {
		size = 0
	}
	if _, err := v.db.ExecRetry(ctx,
		`INSERT INTO vault_archives (archive_id, vault, description, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		archiveID, v.name, description, size, v.now().UnixMilli(),
	); err != nil {
		_ = v.objects.Delete(ctx, v.bucket, archivePrefix+archiveID)
		return "", fmt.Errorf("record archive: %w", err)
	}
	return archiveID, nil
}

func (v *Local) InitiateRetrieval(ctx context.Context, req RetrievalRequest) (string, error) {
	if strings.TrimSpace(req.ArchiveID) == "" {
		return "", services.Wrap(services.ErrValidation, "vault", "initiate retrieval", "archive id is required", nil)
	}
	tier := req.Tier
	if tier == "" {
		tier = TierStandard
	}
	handle := uuid.NewString()
	now := v.now()
	err := v.db.InTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM vault_archives WHERE archive_id = ?`, req.ArchiveID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, req.ArchiveID)
		}
		if limit := v.capacity[tier]; limit > 0 {
			var inFlight int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM vault_retrievals WHERE tier = ? AND status = ?`, tier, StatusInProgress,
			).Scan(&inFlight); err != nil {
				return err
			}
			if inFlight >= limit {
				return fmt.Errorf("%w: %s tier has %d retrievals in progress", ErrInsufficientCapacity, tier, inFlight)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO vault_retrievals (handle, archive_id, description, gas_job_id, tier, status, requested_at, ready_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			handle, req.ArchiveID, req.Description, sqlitedb.NullableString(req.JobID), tier, StatusInProgress,
			now.UnixMilli(), now.Add(v.latency[tier]).UnixMilli(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("initiate %s retrieval: %w", tier, err)
	}
	return handle, nil
}

func (v *Local) Retrieval(ctx context.Context, handle string) (Retrieval, error) {
	row := v.db.QueryRowContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+retrievalColumns+` FROM vault_retrievals WHERE handle = ?`, handle)
	r, err := scanRetrieval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Retrieval{}, fmt.Errorf("%w: %s", ErrRetrievalNotFound, handle)
	}
	if err != nil {
		return Retrieval{}, fmt.Errorf("get retrieval %s: %w", handle, err)
	}
	return r, nil
}

func (v *Local) RetrievalOutput(ctx context.Context, handle string) (io.ReadCloser, error) {
	r, err := v.Retrieval(ctx, handle)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusSucceeded {
		return nil, fmt.Errorf("%w: %s is %s", ErrRetrievalNotReady, handle, r.Status)
	}
	return v.objects.Get(ctx, v.bucket, retrievalPrefix+handle)
}

// CompleteDue finishes every in-progress retrieval whose ready time has
// passed, staging its output, and returns the retrievals that still need a
// completion callback.
func (v *Local) CompleteDue(ctx context.Context) ([]Retrieval, error) {
	due, err := v.list(ctx, `WHERE status = ? AND ready_at <= ? ORDER BY ready_at`, StatusInProgress, v.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	for _, r := range due {
		if err := v.stageOutput(ctx, r); err != nil {
			return nil, err
		}
	}
	return v.list(ctx, `WHERE status = ? AND notified = 0 ORDER BY completed_at`, StatusSucceeded)
}

func (v *Local) stageOutput(ctx context.Context, r Retrieval) error {
	body, err := v.objects.Get(ctx, v.bucket, archivePrefix+r.ArchiveID)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", r.ArchiveID, err)
	}
	defer body.Close()
	if err := v.objects.Put(ctx, v.bucket, retrievalPrefix+r.Handle, body, -1); err != nil {
		return fmt.Errorf("stage retrieval %s: %w", r.Handle, err)
	}
	if _, err := v.db.ExecRetry(ctx,
		`UPDATE vault_retrievals SET status = ?, completed_at = ? WHERE handle = ? AND status = ?`,
		StatusSucceeded, v.now().UnixMilli(), r.Handle, StatusInProgress,
	); err != nil {
		return fmt.Errorf("complete retrieval %s: %w", r.Handle, err)
	}
	return nil
}

// MarkNotified records that the completion callback for handle was published.
func (v *Local) MarkNotified(ctx context.Context, handle string) error {
	if _, err := v.db.ExecRetry(ctx, `UPDATE vault_retrievals SET notified = 1 WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("mark retrieval %s notified: %w", handle, err)
	}
	return nil
}

// InProgress lists retrievals that have not finished yet.
func (v *Local) InProgress(ctx context.Context) ([]Retrieval, error) {
	return v.list(ctx, `WHERE status = ? ORDER BY ready_at`, StatusInProgress)
}

const retrievalColumns = "handle, archive_id, description, gas_job_id, tier, status, requested_at, ready_at, completed_at, notified"

func (v *Local) list(ctx context.Context, where string, args ...any) ([]Retrieval, error) {
	rows, err := v.db.QueryContext(sqlitedb.EnsureContext(ctx), `SELECT `+retrievalColumns+` FROM vault_retrievals `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list retrievals: %w", err)
	}
	defer rows.Close()
	var out []Retrieval
	for rows.Next() {
		r, err := scanRetrieval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRetrieval(scanner interface{ Scan(dest ...any) error }) (Retrieval, error) {
	var (
		r                    Retrieval
		jobID                sql.NullString
		requestedAt, readyAt int64
		completedAt          sql.NullInt64
		notified             int
	)
	if err := scanner.Scan(&r.Handle, &r.ArchiveID, &r.Description, &jobID, &r.Tier, &r.Status,
		&requestedAt, &readyAt, &completedAt, &notified); err != nil {
		return Retrieval{}, err
	}
	r.JobID = jobID.String
	r.RequestedAt = time.UnixMilli(requestedAt)
	r.ReadyAt = time.UnixMilli(readyAt)
	if completedAt.Valid {
		r.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	r.Notified = notified != 0
	return r, nil
}
