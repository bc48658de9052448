package store

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

func sampleRows() []charges.ResultRow {
	f := 0.975
	s1 := costlimit.Point{Efficiency: 0.97, LimitIncrease: 0.19}
	s2 := costlimit.Point{Efficiency: 0.74, LimitIncrease: 0.11}
	return []charges.ResultRow{
		{Company: "ANH", ItemNumber: "ANHPRSMCT1", Year: "2026-27", Unit: charges.DefaultUnit, DP: 3, Value: 101.5, SmoothFactor: &f, Scenario: "1", CompanyReturn: 0.08, Stage1: s1, Stage2: s2},
		{Company: "ANH", ItemNumber: "ANHPRCRCO1", Year: "2025-26", Unit: charges.DefaultUnit, DP: 3, Value: 12.25, CompanyReturn: 0.08, Stage1: s1, Stage2: s2},
		{Company: "SVT", ItemNumber: "SVTPRCTCU1", Year: "2025-26", Unit: charges.DefaultUnit, DP: 3, Value: math.NaN(), CompanyReturn: 0.08, Stage1: s1, Stage2: s2},
	}
}

func meta() pipeline.Metadata {
	return pipeline.Metadata{
		RunID:        "3b241101-e2bb-4255-8caf-4136c566a962",
		StartedAt:    time.Date(2024, 12, 5, 9, 0, 0, 0, time.UTC),
		Policy:       failure.Lenient,
		Stage1Rows:   8,
		Stage2Rows:   4,
		Combinations: 1,
	}
}

func finished(m pipeline.Metadata, rows int) pipeline.Metadata {
	m.CompletedAt = m.StartedAt.Add(time.Minute)
	m.Completed = m.Combinations
	m.ResultRows = rows
	return m
}

func TestTSVWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	sink := NewTSVWriter(&buf)
	require.NoError(t, sink.Begin(ctx, meta()))
	require.NoError(t, sink.Write(ctx, sampleRows()))
	require.NoError(t, sink.Finish(ctx, finished(meta(), 3)))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(Columns, "\t"), lines[0])
	assert.Equal(t, "ANH\tANHPRSMCT1\t2026-27\t£m 22-23 FYA CPIH\t3\t101.5\t0.975\t0.08\t1\t0.97\t0.19\t0.74\t0.11", lines[1])
	assert.Equal(t, "ANH\tANHPRCRCO1\t2025-26\t£m 22-23 FYA CPIH\t3\t12.25\t\t0.08\t\t0.97\t0.19\t0.74\t0.11", lines[2])
	assert.Contains(t, lines[3], "SVTPRCTCU1\t2025-26\t£m 22-23 FYA CPIH\t3\t\t\t0.08")
}

func TestTSVFileIsRenamedOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model3_output.txt")
	ctx := context.Background()
	sink := NewTSV(path)
	require.NoError(t, sink.Begin(ctx, meta()))
	require.NoError(t, sink.Write(ctx, sampleRows()))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "target appears only on finish")

	require.NoError(t, sink.Finish(ctx, finished(meta(), 3)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(data), "\n"))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestTSVFileRemovedOnFailedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	ctx := context.Background()
	sink := NewTSV(path)
	require.NoError(t, sink.Begin(ctx, meta()))
	require.NoError(t, sink.Write(ctx, sampleRows()))

	failed := meta()
	failed.StageFailed = pipeline.StageThree
	require.NoError(t, sink.Finish(ctx, failed))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "", formatFloat(math.NaN()))
	assert.Equal(t, "inf", formatFloat(math.Inf(1)))
	assert.Equal(t, "-inf", formatFloat(math.Inf(-1)))
	assert.Equal(t, "0.1", formatFloat(0.1))
	assert.Equal(t, "1e+06", formatFloat(1e6))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	rows := sampleRows()
	require.NoError(t, db.Begin(ctx, meta()))

	run, err := db.Run(ctx, meta().RunID)
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)

	require.NoError(t, db.Write(ctx, rows[:2]))
	require.NoError(t, db.Write(ctx, rows[2:]))
	require.NoError(t, db.Finish(ctx, finished(meta(), 3)))

	got, err := db.ResultRows(ctx, meta().RunID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, rows[0], got[0])
	assert.Equal(t, rows[1], got[1])
	assert.Nil(t, got[1].SmoothFactor)
	assert.True(t, math.IsNaN(got[2].Value), "NULL reads back as NaN")

	run, err = db.Run(ctx, meta().RunID)
	require.NoError(t, err)
	assert.Equal(t, "complete", run.Status)
	assert.Equal(t, 3, run.ResultRows)
	assert.Equal(t, 1, run.Completed)
	assert.Equal(t, "lenient", run.Policy)
}

func TestSQLiteRecordsFailure(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Begin(ctx, meta()))
	failed := meta()
	failed.StageFailed = pipeline.StageThree
	failed.FailureReason = "context canceled"
	require.NoError(t, db.Finish(ctx, failed))

	run, err := db.Run(ctx, meta().RunID)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "context canceled", run.FailureReason)
}

type failingSink struct {
	pipeline.Sink
	finished bool
}

func (f *failingSink) Begin(context.Context, pipeline.Metadata) error { return errors.New("no space") }
func (f *failingSink) Finish(context.Context, pipeline.Metadata) error {
	f.finished = true
	return nil
}

func TestTeeFinishesBegunSinksWhenBeginFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	bad := &failingSink{}
	tee := Tee{NewTSV(path), bad}

	err := tee.Begin(context.Background(), meta())
	require.EqualError(t, err, "no space")
	assert.False(t, bad.finished)
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr), "begun TSV sink cleaned up")
}

func TestTeeWritesEverySink(t *testing.T) {
	var a, b bytes.Buffer
	ctx := context.Background()
	tee := Tee{NewTSVWriter(&a), NewTSVWriter(&b)}
	require.NoError(t, tee.Begin(ctx, meta()))
	require.NoError(t, tee.Write(ctx, sampleRows()))
	require.NoError(t, tee.Finish(ctx, finished(meta(), 3)))
	assert.Equal(t, a.String(), b.String())
	assert.NotEmpty(t, a.String())
}

func TestCopyValuesOrder(t *testing.T) {
	rows := sampleRows()
	vals := copyValues(toRecord("run", 7, rows[2]))
	require.Len(t, vals, len(copyColumns))
	assert.Equal(t, "run", vals[0])
	assert.Equal(t, int64(7), vals[1])
	assert.Equal(t, "SVTPRCTCU1", vals[3])
	assert.Nil(t, vals[7], "NaN value is NULL")
	assert.Nil(t, vals[8], "absent factor is NULL")
	assert.Equal(t, 0.74, vals[13])
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("PRICEREVIEW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRICEREVIEW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer pg.Close()

	m := meta()
	m.RunID = "test-" + time.Now().Format("20060102150405.000000000")
	require.NoError(t, pg.Begin(ctx, m))
	require.NoError(t, pg.Write(ctx, sampleRows()))
	require.NoError(t, pg.Finish(ctx, finished(m, 3)))

	var n int
	require.NoError(t, pg.pool.QueryRow(ctx, `SELECT count(*) FROM price_review_results WHERE run_id = $1`, m.RunID).Scan(&n))
	assert.Equal(t, 3, n)
}
