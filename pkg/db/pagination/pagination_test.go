package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{ID: 42, CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	token, err := EncodeCursor(in)
	require.NoError(t, err)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}

func TestTrim(t *testing.T) {
	rows := []int{5, 4, 3}
	page, info := Trim(rows, 2, func(v int) Cursor { return Cursor{ID: int64(v)} })
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor.ID)

	page, info = Trim(rows, 3, func(v int) Cursor { return Cursor{ID: int64(v)} })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}
