package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, 5, Pagination{Limit: 5}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	c := EncodeCursor("1780000000000000001")
	id, err := DecodeCursor(c)
	require.NoError(t, err)
	require.Equal(t, "1780000000000000001", id)

	_, err = DecodeCursor("not base64!")
	require.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor(EncodeCursor("abc"))
	require.ErrorIs(t, err, ErrInvalidCursor)
}

type row struct{ ID string }

func TestPage(t *testing.T) {
	rows := []*row{{"11"}, {"12"}, {"13"}}
	id := func(r *row) string { return r.ID }

	got, info := Page(rows, Pagination{Limit: 2}, id)
	require.Len(t, got, 2)
	require.True(t, info.HasMore)
	after, err := Pagination{Cursor: info.NextCursor}.After()
	require.NoError(t, err)
	require.Equal(t, "12", after)

	got, info = Page(rows, Pagination{Limit: 3}, id)
	require.Len(t, got, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
