package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 5, 1, 12, 30, 0, 123, time.UTC), ID: uuid.New()}

	out, err := ParseCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	out, err := ParseCursor("")
	assert.NoError(t, err)
	assert.Nil(t, out)

	for _, raw := range []string{"!!!", "bm9waXBl", "MjAyNi0wMS0wMXxub3QtYS11dWlk"} {
		_, err := ParseCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type row struct {
		at time.Time
		id uuid.UUID
	}
	rows := []row{{base, uuid.New()}, {base.Add(-time.Hour), uuid.New()}, {base.Add(-2 * time.Hour), uuid.New()}}
	pos := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 2, pos)
	require.Len(t, page, 2)
	require.NotEmpty(t, next)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[1].id, cursor.ID)

	page, next = Trim(rows, 5, pos)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}
