// Package importer picks up feed files dropped into a watched directory and
// turns each new file into one import job.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/catalog"
	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/feeds"
	"github.com/bartek5186/pcmcatalog/internal/jobs"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Submitter queues bulk jobs and reports on them (catalog.Service).
type Submitter interface {
	SubmitBulk(ctx context.Context, req catalog.BulkRequest) (*catalog.BulkResult, error)
	JobStatus(ctx context.Context, id string) (*catalog.JobStatus, error)
}

type Importer struct {
	log    zerolog.Logger
	cfg    conf.ImporterConfig
	db     *gorm.DB
	submit Submitter
}

// ScanStats summarises one pass over the watch directory.
type ScanStats struct {
	Seen      int
	Submitted int
	Skipped   int
	Failed    int
}

func New(log zerolog.Logger, cfg conf.ImporterConfig, gdb *gorm.DB, submit Submitter) *Importer {
	return &Importer{
		log:    log.With().Str("component", "importer").Logger(),
		cfg:    cfg,
		db:     gdb,
		submit: submit,
	}
}

func (i *Importer) Name() string { return "importer" }

// ScanOnce processes every feed file in the watch directory that has not
// been imported yet. Files that failed before, or whose job failed, are
// retried; files whose job is still running are left alone.
func (i *Importer) ScanOnce(ctx context.Context) (ScanStats, error) {
	var st ScanStats
	dir := expandHome(i.cfg.WatchDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return st, fmt.Errorf("read watch dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// najstarsze eksporty najpierw (nazwa zawiera znacznik czasu)
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		parser, ok := i.parserFor(name)
		if !ok {
			continue
		}
		st.Seen++

		submitted, err := i.processFile(ctx, filepath.Join(dir, name), name, parser)
		switch {
		case err != nil:
			st.Failed++
			i.log.Error().Err(err).Str("file", name).Msg("feed file failed")
		case submitted:
			st.Submitted++
		default:
			st.Skipped++
		}
	}
	if st.Seen > 0 {
		i.log.Info().
			Int("seen", st.Seen).
			Int("submitted", st.Submitted).
			Int("skipped", st.Skipped).
			Int("failed", st.Failed).
			Msg("watch dir scanned")
	}
	return st, nil
}

func (i *Importer) parserFor(name string) (feeds.Parser, bool) {
	if strings.HasPrefix(name, ".") {
		return nil, false
	}
	if i.cfg.Format != "" {
		if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), i.cfg.Format) {
			return nil, false
		}
		return feeds.Get(i.cfg.Format)
	}
	return feeds.ForFile(name)
}

// processFile reports whether a job was submitted for the file.
func (i *Importer) processFile(ctx context.Context, full, name string, parser feeds.Parser) (bool, error) {
	fi, err := os.Stat(full)
	if err != nil {
		return false, err
	}
	sum, err := fileSHA256(full)
	if err != nil {
		return false, err
	}

	// dedup po filename/sha
	var rec db.ImportFile
	err = i.db.WithContext(ctx).Where("sha256 = ? OR filename = ?", sum, name).Take(&rec).Error
	switch {
	case err == nil:
		if rec.Status == db.FileProcessing {
			done, err := i.settle(ctx, &rec)
			if err != nil || done {
				return false, err
			}
		}
		if rec.Status == db.FileDone {
			i.log.Debug().Str("file", name).Msg("plik już był i DONE — pomijam")
			return false, nil
		}
		i.log.Warn().Str("file", name).Uint("import_id", rec.ImportID).Int("status", rec.Status).
			Msg("plik istnieje, ale nie DONE — ponawiam przetwarzanie")
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec = db.ImportFile{Filename: name, SHA256: sum, SizeBytes: fi.Size(), SourceID: i.cfg.SourceID, Status: db.FilePending}
		if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return false, fmt.Errorf("register file: %w", err)
		}
	default:
		return false, err
	}

	feed, err := parseFile(full, parser)
	if err != nil {
		return false, i.markError(ctx, rec.ImportID, err)
	}

	if feed.BatchID != "" {
		var dup db.ImportFile
		err := i.db.WithContext(ctx).
			Where("batch_id = ? AND import_id <> ? AND status IN ?", feed.BatchID, rec.ImportID, []int{db.FileDone, db.FileProcessing}).
			Take(&dup).Error
		if err == nil {
			i.log.Warn().Str("file", name).Str("batch_id", feed.BatchID).Str("same_as", dup.Filename).
				Msg("eksport o tym samym identyfikatorze już zaimportowany — pomijam")
			return false, i.markDone(ctx, rec.ImportID, feed.BatchID, "", "duplicate of "+dup.Filename)
		}
	}
	if len(feed.Records) == 0 {
		return false, i.markDone(ctx, rec.ImportID, feed.BatchID, "", "no records")
	}

	items := make([]any, len(feed.Records))
	for n, r := range feed.Records {
		items[n] = r
	}
	// status first: the job may finish before SubmitBulk returns
	if err := i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", rec.ImportID).
		Updates(map[string]any{"status": db.FileProcessing, "batch_id": feed.BatchID, "job_id": "", "last_error": ""}).Error; err != nil {
		return false, err
	}
	importID := rec.ImportID
	res, err := i.submit.SubmitBulk(ctx, catalog.BulkRequest{
		JobType:  "import",
		Action:   catalog.ActionImport,
		SourceID: i.cfg.SourceID,
		Items:    items,
		Params:   map[string]any{"file": name, "batch_id": feed.BatchID},
		OnDone: func(ctx context.Context, job *db.Job) {
			if err := i.finish(ctx, importID, job.JobID, job.Status); err != nil {
				i.log.Error().Err(err).Str("file", name).Str("job_id", job.JobID).Msg("nie udało się zapisać statusu pliku")
			}
		},
	})
	if err != nil {
		return false, i.markError(ctx, rec.ImportID, err)
	}
	if err := i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", rec.ImportID).
		Update("job_id", res.JobID).Error; err != nil {
		return true, err
	}
	i.log.Info().Str("file", name).Uint("import_id", rec.ImportID).Str("job_id", res.JobID).
		Int("records", res.TotalItems).Msg("przekazano do importu")
	return true, nil
}

func (i *Importer) markDone(ctx context.Context, id uint, batchID, jobID, note string) error {
	return i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", id).
		Updates(map[string]any{
			"status":       db.FileDone,
			"batch_id":     batchID,
			"job_id":       jobID,
			"last_error":   note,
			"processed_at": time.Now(),
		}).Error
}

// finish moves the file row to the outcome of its import job.
func (i *Importer) finish(ctx context.Context, id uint, jobID, status string) error {
	updates := map[string]any{
		"status":     db.FileError,
		"job_id":     jobID,
		"last_error": fmt.Sprintf("job %s ended %s", jobID, status),
	}
	if status == db.JobCompleted {
		updates["status"] = db.FileDone
		updates["last_error"] = ""
		updates["processed_at"] = time.Now()
	}
	return i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", id).Updates(updates).Error
}

// settle reconciles a processing file with its job, for runs whose
// completion hook never fired (crash, stale job). It reports whether the
// file must be left alone.
func (i *Importer) settle(ctx context.Context, rec *db.ImportFile) (bool, error) {
	if rec.JobID == "" {
		rec.Status = db.FileError
		return false, nil
	}
	st, err := i.submit.JobStatus(ctx, rec.JobID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		rec.Status = db.FileError
		return false, nil
	case err != nil:
		return true, fmt.Errorf("job %s status: %w", rec.JobID, err)
	}
	switch st.Status {
	case db.JobPending, db.JobProcessing:
		i.log.Debug().Str("file", rec.Filename).Str("job_id", rec.JobID).Msg("import w toku — pomijam")
		return true, nil
	default:
		if err := i.finish(ctx, rec.ImportID, rec.JobID, st.Status); err != nil {
			return true, err
		}
		if st.Status == db.JobCompleted {
			rec.Status = db.FileDone
		} else {
			rec.Status = db.FileError
		}
		return false, nil
	}
}

// markError records err on the file row and returns it.
func (i *Importer) markError(ctx context.Context, id uint, err error) error {
	if uerr := i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", id).
		Updates(map[string]any{"status": db.FileError, "last_error": err.Error()}).Error; uerr != nil {
		return errors.Join(err, uerr)
	}
	return err
}

// Files lists registered feed files, newest first.
func (i *Importer) Files(ctx context.Context, limit int) ([]db.ImportFile, error) {
	var rows []db.ImportFile
	q := i.db.WithContext(ctx).Order("import_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return rows, q.Find(&rows).Error
}

func parseFile(path string, p feeds.Parser) (*feeds.Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.Parse(f)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
