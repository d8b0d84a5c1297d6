package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890, time.FixedZone("CET", 3600))

	encoded := EncodeCursor("k1", ts)
	cursor, err := DecodeCursor(encoded)

	require.NoError(t, err)
	assert.Equal(t, "k1", cursor.LastID)
	assert.True(t, ts.Equal(cursor.Timestamp))
}

func TestEncodeCursor_EmptyID(t *testing.T) {
	assert.Empty(t, EncodeCursor("", time.Now()))
}

func TestDecodeCursor(t *testing.T) {
	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)

	for _, bad := range []string{
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte("no-separator")),
		base64.StdEncoding.EncodeToString([]byte("k1|yesterday")),
	} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
