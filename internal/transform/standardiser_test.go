package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
	"github.com/leapstack-labs/fitetl/internal/testutil"
)

func newStandardiser(t *testing.T, fallback DateFallback) *Standardiser {
	t.Helper()
	return NewStandardiser(StandardiserConfig{DateFallback: fallback, Logger: testutil.NewTestLogger(t)})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStandardise_Dates(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2023-01-05", day(2023, 1, 5)},
		{"2023/01/05", day(2023, 1, 5)},
		{"01/05/2023", day(2023, 1, 5)},
		{"05-01-2023", day(2023, 1, 5)},
		{"5 January 2023", day(2023, 1, 5)},
		{"January 5, 2023", day(2023, 1, 5)},
		{"2023-01-05T10:30:00Z", day(2023, 1, 5)},
		{"2023-01-05 23:59:59", day(2023, 1, 5)},
		{" 2023-01-05 ", day(2023, 1, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			tbl := rawTable(t, []string{fitness.Date}, []any{tt.raw})

			out, report, err := newStandardiser(t, DateFail).Standardise(tbl)
			require.NoError(t, err)

			assert.Equal(t, tt.want, out.Value(0, fitness.Date))
			assert.Equal(t, "2023-01-05", table.Format(out.Value(0, fitness.Date)))
			col, _ := out.Column(fitness.Date)
			assert.Equal(t, table.KindDate, col.Kind)
			assert.Equal(t, 1, report.DatesParsed)
		})
	}
}

func TestStandardise_DateFallback(t *testing.T) {
	newTable := func(t *testing.T) *table.Table {
		return rawTable(t, []string{fitness.ParticipantID, fitness.Date},
			[]any{"1", "2023-01-05"},
			[]any{"2", "yesterday"},
		)
	}

	t.Run("fail", func(t *testing.T) {
		_, _, err := newStandardiser(t, DateFail).Standardise(newTable(t))
		require.Error(t, err)

		var serr *StandardisationError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, 1, serr.Row)
		assert.Equal(t, "yesterday", serr.Value)
		assert.ErrorIs(t, err, ErrUnparseableDate)
	})

	t.Run("flag", func(t *testing.T) {
		out, report, err := newStandardiser(t, DateFlag).Standardise(newTable(t))
		require.NoError(t, err)

		require.Equal(t, 2, out.Len())
		assert.Nil(t, out.Value(1, fitness.Date))
		assert.Equal(t, []any{false, true}, out.Values(fitness.DateFlagged))
		assert.Equal(t, 1, report.DatesFlagged)

		// A second pass keeps the flag even though the raw value is gone.
		again, _, err := newStandardiser(t, DateFlag).Standardise(out)
		require.NoError(t, err)
		assert.Equal(t, []any{false, true}, again.Values(fitness.DateFlagged))
	})

	t.Run("drop", func(t *testing.T) {
		out, report, err := newStandardiser(t, DateDrop).Standardise(newTable(t))
		require.NoError(t, err)

		assert.Equal(t, 1, out.Len())
		assert.Equal(t, 1, report.RowsDropped)
		assert.False(t, out.Has(fitness.DateFlagged))
	})
}

func TestStandardise_Categoricals(t *testing.T) {
	tests := []struct {
		column string
		raw    string
		want   string
	}{
		{fitness.Gender, "male", "M"},
		{fitness.Gender, " Female ", "F"},
		{fitness.Gender, "f", "F"},
		{fitness.Gender, "Non-binary", "Non-binary"},
		{fitness.Intensity, "MED", "Medium"},
		{fitness.Intensity, "h", "High"},
		{fitness.SmokingStatus, "non-smoker", "Never"},
		{fitness.SmokingStatus, "Former Smoker", "Former"},
		{fitness.HealthCondition, "none", "No Condition"},
		{fitness.HealthCondition, "Diabetes", "Diabetes"},
		{fitness.ActivityType, "weight   training", "Weight Training"},
		{fitness.ActivityType, "RUNNING", "Running"},
		{fitness.ActivityType, "Unknown", fitness.Unknown},
		{"notes", "  padded  ", "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.column+"/"+tt.raw, func(t *testing.T) {
			tbl := rawTable(t, []string{tt.column}, []any{tt.raw})

			out, _, err := newStandardiser(t, DateFlag).Standardise(tbl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Value(0, tt.column))
		})
	}
}

func TestStandardise_LeavesNumbersAlone(t *testing.T) {
	tbl, err := table.FromRows(
		[]table.Column{{Name: fitness.WeightKG, Kind: table.KindFloat}, {Name: fitness.Gender, Kind: table.KindString}},
		[]table.Row{{80.5, nil}},
	)
	require.NoError(t, err)

	out, report, err := newStandardiser(t, DateFlag).Standardise(tbl)
	require.NoError(t, err)
	assert.Equal(t, 80.5, out.Value(0, fitness.WeightKG))
	assert.Nil(t, out.Value(0, fitness.Gender))
	assert.Zero(t, report.ValuesCanonicalised)
}

func TestDateFallback_UnmarshalText(t *testing.T) {
	var d DateFallback
	require.NoError(t, d.UnmarshalText(nil))
	assert.Equal(t, DateFlag, d)
	require.NoError(t, d.UnmarshalText([]byte("drop")))
	assert.Equal(t, DateDrop, d)
	assert.Error(t, d.UnmarshalText([]byte("ignore")))
}
