package table

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Table {
	t.Helper()
	tbl, err := FromRows(
		[]Column{{Name: "id", Kind: KindInt}, {Name: "name", Kind: KindString}},
		[]Row{{int64(1), "a"}, {int64(2), nil}},
	)
	require.NoError(t, err)
	return tbl
}

func TestFromRows_RejectsBadWidth(t *testing.T) {
	_, err := FromRows([]Column{{Name: "id"}}, []Row{{"1", "extra"}})
	require.Error(t, err)

	_, err = FromRows([]Column{{Name: "id"}, {Name: "id"}}, nil)
	require.Error(t, err)
}

func TestWithColumn(t *testing.T) {
	tbl := sample(t)

	added, err := tbl.WithColumn(Column{Name: "score", Kind: KindFloat}, []any{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "score"}, added.ColumnNames())
	assert.Equal(t, []string{"id", "name"}, tbl.ColumnNames(), "receiver must not change")

	replaced, err := added.WithColumn(Column{Name: "score", Kind: KindFloat}, []any{3.0, 4.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "score"}, replaced.ColumnNames())
	assert.Equal(t, []any{3.0, 4.0}, replaced.Values("score"))

	_, err = tbl.WithColumn(Column{Name: "x"}, []any{1})
	require.Error(t, err)
}

func TestFilterAndWithout(t *testing.T) {
	tbl := sample(t)

	kept := tbl.Filter(func(_ int, r Row) bool { return r[1] != nil })
	assert.Equal(t, 1, kept.Len())
	assert.Equal(t, 2, tbl.Len())

	narrow := tbl.Without("name")
	assert.Equal(t, []string{"id"}, narrow.ColumnNames())
	if diff := cmp.Diff([]Row{{int64(1)}, {int64(2)}}, narrow.Rows()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRowKey(t *testing.T) {
	assert.Equal(t, RowKey(Row{"a", int64(1)}), RowKey(Row{"a", int64(1)}))
	assert.NotEqual(t, RowKey(Row{"a", nil}), RowKey(Row{"a", ""}))
	assert.NotEqual(t, RowKey(Row{"a ", int64(1)}), RowKey(Row{"a", int64(1)}))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(42), "42"},
		{25.0, "25"},
		{1.8, "1.8"},
		{time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), "2023-01-05"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in))
	}
}

func TestCoerce(t *testing.T) {
	v, ok := Coerce("40", KindInt)
	require.True(t, ok)
	assert.Equal(t, int64(40), v)

	v, ok = Coerce("72.6", KindInt)
	require.True(t, ok)
	assert.Equal(t, int64(73), v)

	_, ok = Coerce("abc", KindFloat)
	assert.False(t, ok)

	v, ok = Coerce(int64(3), KindFloat)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = Coerce(nil, KindString)
	assert.False(t, ok)
}
