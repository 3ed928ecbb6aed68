package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bartek5186/pcmcatalog/internal/catalog"
	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/db/dbtest"
	"github.com/bartek5186/pcmcatalog/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeSubmitter settles every job right away with finish ("" leaves it
// running) and answers JobStatus from jobs.
type fakeSubmitter struct {
	reqs   []catalog.BulkRequest
	err    error
	finish string
	jobs   map[string]string
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{finish: db.JobCompleted, jobs: map[string]string{}}
}

func (f *fakeSubmitter) SubmitBulk(ctx context.Context, req catalog.BulkRequest) (*catalog.BulkResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	id := fmt.Sprintf("job-%d", len(f.reqs))
	f.jobs[id] = db.JobProcessing
	if f.finish != "" {
		f.jobs[id] = f.finish
		req.OnDone(ctx, &db.Job{JobID: id, Status: f.finish})
	}
	return &catalog.BulkResult{JobID: id, TotalItems: len(req.Items)}, nil
}

func (f *fakeSubmitter) JobStatus(_ context.Context, id string) (*catalog.JobStatus, error) {
	st, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return &catalog.JobStatus{JobID: id, Status: st}, nil
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func fileRow(t *testing.T, gdb *gorm.DB, name string) db.ImportFile {
	t.Helper()
	var rec db.ImportFile
	require.NoError(t, gdb.Where("filename = ?", name).Take(&rec).Error)
	return rec
}

func setup(t *testing.T) (string, *gorm.DB, *fakeSubmitter, *Importer) {
	t.Helper()
	dir := t.TempDir()
	gdb := dbtest.Open(t)
	sub := newFakeSubmitter()
	imp := New(zerolog.Nop(), conf.ImporterConfig{WatchDir: dir, SourceID: "pcm"}, gdb, sub)
	return dir, gdb, sub, imp
}

func TestScanOnceSubmitsNewFiles(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	writeFile(t, dir, "exp_wyk_0001_20250101120000.xml",
		`<dane><transmisja_id>77</transmisja_id><towary><towar><kod>1</kod></towar><towar><kod>2</kod></towar></towary></dane>`)
	writeFile(t, dir, "api_dump.json", `[{"entity_code":"A"}]`)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.xml"), 0o755))

	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanStats{Seen: 2, Submitted: 2}, st)

	require.Len(t, sub.reqs, 2)
	// sorted by name: api_dump.json first
	require.Equal(t, catalog.ActionImport, sub.reqs[0].Action)
	require.Equal(t, "pcm", sub.reqs[0].SourceID)
	require.Len(t, sub.reqs[1].Items, 2)
	require.Equal(t, "77", sub.reqs[1].Params["batch_id"])

	rec := fileRow(t, gdb, "exp_wyk_0001_20250101120000.xml")
	require.Equal(t, db.FileDone, rec.Status)
	require.Equal(t, "job-2", rec.JobID)
	require.Equal(t, "77", rec.BatchID)
	require.Len(t, rec.SHA256, 64)
	require.NotNil(t, rec.ProcessedAt)

	// second pass: nothing new
	st, err = imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanStats{Seen: 2, Skipped: 2}, st)
	require.Len(t, sub.reqs, 2)

	files, err := imp.Files(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestScanOnceDeduplicates(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	body := `<dane><transmisja_id>T1</transmisja_id><towary><towar><kod>1</kod></towar></towary></dane>`
	writeFile(t, dir, "a.xml", body)
	_, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)

	// same content under a new name
	writeFile(t, dir, "b.xml", body)
	// same export id, different bytes
	writeFile(t, dir, "c.xml", `<dane><transmisja_id>T1</transmisja_id><towary><towar><kod>2</kod></towar></towary></dane>`)

	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, st.Submitted)
	require.Len(t, sub.reqs, 1)

	c := fileRow(t, gdb, "c.xml")
	require.Equal(t, db.FileDone, c.Status)
	require.Empty(t, c.JobID)
	require.Equal(t, "duplicate of a.xml", c.LastError)
}

func TestScanOnceRecordsErrorsAndRetries(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	writeFile(t, dir, "broken.xml", `<dane><towar><kod>1</kod></dane>`)

	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Failed)
	rec := fileRow(t, gdb, "broken.xml")
	require.Equal(t, db.FileError, rec.Status)
	require.Contains(t, rec.LastError, "xml feed")

	// submit failure is also recorded and retried on the next pass
	writeFile(t, dir, "ok.json", `{"products":[{"entity_code":"A"}]}`)
	sub.err = errors.New("queue unavailable")
	_, err = imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, db.FileError, fileRow(t, gdb, "ok.json").Status)

	sub.err = nil
	st, err = imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Submitted)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, db.FileDone, fileRow(t, gdb, "ok.json").Status)
	require.Len(t, sub.reqs, 1)
}

func TestScanOnceEmptyFeedAndFormatFilter(t *testing.T) {
	dir := t.TempDir()
	gdb := dbtest.Open(t)
	sub := newFakeSubmitter()
	imp := New(zerolog.Nop(), conf.ImporterConfig{WatchDir: dir, SourceID: "pcm", Format: "json"}, gdb, sub)

	writeFile(t, dir, "empty.json", `[]`)
	writeFile(t, dir, "skip.xml", `<dane/>`)

	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanStats{Seen: 1, Skipped: 1}, st)
	require.Empty(t, sub.reqs)
	require.Equal(t, "no records", fileRow(t, gdb, "empty.json").LastError)
}

func TestScanOnceMissingDir(t *testing.T) {
	gdb := dbtest.Open(t)
	imp := New(zerolog.Nop(), conf.ImporterConfig{WatchDir: filepath.Join(t.TempDir(), "nope")}, gdb, newFakeSubmitter())
	_, err := imp.ScanOnce(context.Background())
	require.Error(t, err)
}

func TestScanOnceRetriesFileWhoseJobFailed(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	writeFile(t, dir, "feed.json", `{"batch_id":"B7","products":[{"entity_code":"A"}]}`)

	sub.finish = db.JobFailed
	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Submitted)
	rec := fileRow(t, gdb, "feed.json")
	require.Equal(t, db.FileError, rec.Status)
	require.Equal(t, "job-1", rec.JobID)
	require.Equal(t, "B7", rec.BatchID)
	require.Equal(t, "job job-1 ended failed", rec.LastError)

	sub.finish = db.JobCompleted
	st, err = imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Submitted)
	require.Len(t, sub.reqs, 2)
	rec = fileRow(t, gdb, "feed.json")
	require.Equal(t, db.FileDone, rec.Status)
	require.Equal(t, "job-2", rec.JobID)
	require.Equal(t, "B7", rec.BatchID)
	require.Empty(t, rec.LastError)
}

func TestScanOnceWaitsForRunningJob(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	writeFile(t, dir, "feed.json", `[{"entity_code":"A"}]`)

	sub.finish = ""
	_, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	rec := fileRow(t, gdb, "feed.json")
	require.Equal(t, db.FileProcessing, rec.Status)
	require.Equal(t, "job-1", rec.JobID)

	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanStats{Seen: 1, Skipped: 1}, st)
	require.Len(t, sub.reqs, 1)

	// the hook never fired (crash, stale job): the next scan settles the file
	sub.jobs["job-1"] = db.JobFailed
	sub.finish = db.JobCompleted
	st, err = imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.Submitted)
	require.Len(t, sub.reqs, 2)
	require.Equal(t, db.FileDone, fileRow(t, gdb, "feed.json").Status)
}

func TestScanOnceSettlesCompletedJob(t *testing.T) {
	dir, gdb, sub, imp := setup(t)
	writeFile(t, dir, "feed.json", `[{"entity_code":"A"}]`)

	sub.finish = ""
	_, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)

	sub.jobs["job-1"] = db.JobCompleted
	st, err := imp.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, ScanStats{Seen: 1, Skipped: 1}, st)
	require.Len(t, sub.reqs, 1)
	rec := fileRow(t, gdb, "feed.json")
	require.Equal(t, db.FileDone, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
}
