package candb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.ini")
	content := "[0x100]\nrpm = offset:0,len:2,scale:0.25\nspeed = offset:2,len:1,scale:1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestINIDatabaseDecode(t *testing.T) {
	db, err := NewINIDatabase(writeTestDB(t))
	require.NoError(t, err)

	decoded, err := db.Decode(0x100, []byte{0x0F, 0xA0, 0x32, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, float64(0x0FA0)*0.25, decoded["rpm"], 0.001)
	assert.Equal(t, float64(0x32), decoded["speed"])
}

func TestINIDatabaseUnknownID(t *testing.T) {
	db, err := NewINIDatabase(writeTestDB(t))
	require.NoError(t, err)

	_, err = db.Decode(0x200, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestINIDatabaseShortPayload(t *testing.T) {
	db, err := NewINIDatabase(writeTestDB(t))
	require.NoError(t, err)

	_, err = db.Decode(0x100, []byte{0x01})
	assert.ErrorIs(t, err, ErrParse)
}
