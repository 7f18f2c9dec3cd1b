package attendance

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/logging"
	"beaconattend/internal/store"
	"beaconattend/internal/student"
)

var morning = time.Date(2025, 3, 3, 8, 15, 0, 0, time.UTC)

type fixture struct {
	db     *sql.DB
	cache  *student.SQLCache
	ledger *Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, "file::memory:?_foreign_keys=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return fixture{
		db:     db.Client,
		cache:  student.NewSQLCache(db.Client),
		ledger: NewLedger(db.Client, time.UTC, logging.Discard()),
	}
}

func (f fixture) addStudent(t *testing.T, p student.Profile) {
	t.Helper()
	payload, err := p.Encode()
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(context.Background(), student.Entry{Matricule: p.Matricule, Payload: payload, LastFetched: morning}))
}

func ptr(s string) *string { return &s }

func TestRecordOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent(t, student.Profile{Matricule: "UCB001", FullName: "Jean Dupont", Active: 1})

	rec, err := f.ledger.Record(ctx, "UCB001", ptr("L3"), ptr("Informatique"), morning)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "2025-03-03", rec.Date)
	assert.Equal(t, "08:15:00", rec.Time)
	assert.True(t, rec.IsPresent)
	assert.True(t, f.ledger.IsPresent(ctx, "2025-03-03", "UCB001"))

	_, err = f.ledger.Record(ctx, "UCB001", ptr("L3"), ptr("Informatique"), morning.Add(3*time.Hour))
	require.ErrorIs(t, err, ErrAlreadyPresent)
	assert.Len(t, f.ledger.ByDate(ctx, "2025-03-03"), 1)

	_, err = f.ledger.Record(ctx, "UCB001", nil, nil, morning.Add(24*time.Hour))
	require.NoError(t, err, "a new day is a new record")
}

func TestRecordUsesLedgerTimezone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent(t, student.Profile{Matricule: "UCB001", Active: 1})
	bukavu := time.FixedZone("CAT", 2*60*60)
	ledger := NewLedger(f.db, bukavu, logging.Discard())

	// 23:30 UTC is already the next day in Bukavu
	rec, err := ledger.Record(ctx, "UCB001", nil, nil, time.Date(2025, 3, 3, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04", rec.Date)
	assert.Equal(t, "01:30:00", rec.Time)
	assert.Equal(t, "2025-03-04", ledger.Today(time.Date(2025, 3, 3, 23, 30, 0, 0, time.UTC)))
}

func TestRecordConcurrentWritersSingleRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent(t, student.Profile{Matricule: "UCB001", Active: 1})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		present int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Record(ctx, "UCB001", nil, nil, morning)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyPresent):
				present++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 15, present)
}

func TestUniqueIndexBacksTheCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent(t, student.Profile{Matricule: "UCB001", Active: 1})

	insert := `INSERT INTO attendance (student_matricule, attendance_date, attendance_time, detected_at, is_present)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := f.db.ExecContext(ctx, insert, "UCB001", "2025-03-03", "08:00:00", 1, true)
	require.NoError(t, err)
	_, err = f.db.ExecContext(ctx, insert, "UCB001", "2025-03-03", "09:00:00", 2, true)
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
}

func TestRecordUnknownStudentIsStorageError(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Record(context.Background(), "NOBODY", nil, nil, morning)
	require.ErrorIs(t, err, ErrStorage)
}

func TestFiltered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed := []struct {
		matricule string
		promotion *string
		faculte   *string
		at        time.Time
	}{
		{"UCB001", ptr("L3"), ptr("Informatique"), morning},
		{"UCB002", ptr("L3"), ptr("Droit"), morning.Add(time.Minute)},
		{"UCB003", ptr("L1"), ptr("Informatique"), morning.Add(2 * time.Minute)},
		{"UCB004", nil, nil, morning.Add(3 * time.Minute)},
		{"UCB005", ptr("L3"), ptr("Informatique"), morning.Add(24 * time.Hour)},
	}
	for _, s := range seed {
		f.addStudent(t, student.Profile{Matricule: s.matricule, Active: 1})
		_, err := f.ledger.Record(ctx, s.matricule, s.promotion, s.faculte, s.at)
		require.NoError(t, err)
	}

	matricules := func(entries []Entry) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.StudentMatricule)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"whole day, latest first", Filter{Date: "2025-03-03"}, []string{"UCB004", "UCB003", "UCB002", "UCB001"}},
		{"promotion", Filter{Date: "2025-03-03", Promotion: ptr("L3")}, []string{"UCB002", "UCB001"}},
		{"faculte", Filter{Date: "2025-03-03", Faculte: ptr("Informatique")}, []string{"UCB003", "UCB001"}},
		{"both", Filter{Date: "2025-03-03", Promotion: ptr("L3"), Faculte: ptr("Droit")}, []string{"UCB002"}},
		{"no match", Filter{Date: "2025-03-03", Promotion: ptr("M2")}, []string{}},
		{"other day", Filter{Date: "2025-03-04"}, []string{"UCB005"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matricules(f.ledger.Filtered(ctx, tt.filter)))
		})
	}

	assert.Equal(t, []string{"L1", "L3"}, f.ledger.Promotions(ctx))
	assert.Equal(t, []string{"Droit", "Informatique"}, f.ledger.Facultes(ctx))
}

func TestReadsAreFailSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.db.Close())

	assert.Empty(t, f.ledger.ByDate(ctx, "2025-03-03"))
	assert.NotNil(t, f.ledger.ByDate(ctx, "2025-03-03"))
	assert.Empty(t, f.ledger.Promotions(ctx))
	assert.Empty(t, f.ledger.Facultes(ctx))
	assert.False(t, f.ledger.IsPresent(ctx, "2025-03-03", "UCB001"))

	_, err := f.ledger.Record(ctx, "UCB001", nil, nil, morning)
	require.ErrorIs(t, err, ErrStorage)
}

func TestDeleteByDateAndClearAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, m := range []string{"UCB001", "UCB002"} {
		f.addStudent(t, student.Profile{Matricule: m, Active: 1})
	}
	_, err := f.ledger.Record(ctx, "UCB001", nil, nil, morning)
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, "UCB002", nil, nil, morning)
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, "UCB001", nil, nil, morning.Add(24*time.Hour))
	require.NoError(t, err)

	n, err := f.ledger.DeleteByDate(ctx, "2025-03-03")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, f.ledger.ByDate(ctx, "2025-03-04"), 1)

	require.NoError(t, f.ledger.ClearAll(ctx))
	assert.Empty(t, f.ledger.ByDate(ctx, "2025-03-04"))
}

func TestDeletingStudentCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent(t, student.Profile{Matricule: "UCB001", Active: 1})
	_, err := f.ledger.Record(ctx, "UCB001", nil, nil, morning)
	require.NoError(t, err)

	// refreshing the cache entry must not drop history
	f.addStudent(t, student.Profile{Matricule: "UCB001", FullName: "Renamed", Active: 1})
	require.Len(t, f.ledger.ByDate(ctx, "2025-03-03"), 1)

	removed, err := f.cache.Delete(ctx, "UCB001")
	require.NoError(t, err)
	require.True(t, removed)
	assert.Empty(t, f.ledger.ByDate(ctx, "2025-03-03"))
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	clock := clockwork.NewFakeClockAt(morning)
	recorder := NewRecorder(f.ledger, clock, logging.Discard())

	t.Run("inactive student", func(t *testing.T) {
		p := student.Profile{Matricule: "UCB009", Active: 0}
		f.addStudent(t, p)
		_, err := recorder.Execute(ctx, p)
		require.ErrorIs(t, err, ErrIneligibleStudent)
		assert.False(t, f.ledger.IsPresent(ctx, "2025-03-03", "UCB009"))
	})

	t.Run("labels come from filiere and orientation", func(t *testing.T) {
		p := student.Profile{
			Matricule:   "UCB001",
			Active:      1,
			Filiere:     &student.Filiere{ID: 1, ShortName: "INFO"},
			Orientation: &student.Orientation{ID: 2, Title: "Sciences"},
		}
		f.addStudent(t, p)
		rec, err := recorder.Execute(ctx, p)
		require.NoError(t, err)
		require.NotNil(t, rec.Promotion)
		require.NotNil(t, rec.Faculte)
		assert.Equal(t, "INFO", *rec.Promotion)
		assert.Equal(t, "Sciences", *rec.Faculte)
		assert.Equal(t, "2025-03-03", rec.Date)

		_, err = recorder.Execute(ctx, p)
		require.ErrorIs(t, err, ErrAlreadyPresent)
	})

	t.Run("missing labels stay nil", func(t *testing.T) {
		p := student.Profile{Matricule: "UCB002", Active: 1}
		f.addStudent(t, p)
		rec, err := recorder.Execute(ctx, p)
		require.NoError(t, err)
		assert.Nil(t, rec.Promotion)
		assert.Nil(t, rec.Faculte)
	})
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	report := NewReport(f.ledger, logging.Discard())

	f.addStudent(t, student.Profile{
		Matricule: "UCB001", FullName: "Jean Dupont", Active: 1,
		Filiere: &student.Filiere{ShortName: "INFO"},
	})
	require.NoError(t, f.cache.Put(ctx, student.Entry{Matricule: "UCB002", Payload: "{broken", LastFetched: morning}))
	_, err := f.ledger.Record(ctx, "UCB001", ptr("INFO"), nil, morning)
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, "UCB002", ptr("L1"), ptr("Droit"), morning.Add(time.Second))
	require.NoError(t, err)

	_, err = report.Query(ctx, Filter{Date: "03/03/2025"})
	require.ErrorIs(t, err, ErrInvalidDate)

	lines, err := report.Query(ctx, Filter{Date: "2025-03-03"})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, UnknownName, lines[0].FullName)
	assert.Equal(t, "Jean Dupont", lines[1].FullName)
	require.NotNil(t, lines[1].Filiere)
	assert.Equal(t, "INFO", *lines[1].Filiere)

	opts := report.Options(ctx)
	assert.Equal(t, []string{"INFO", "L1"}, opts.Promotions)
	assert.Equal(t, []string{"Droit"}, opts.Facultes)
}
