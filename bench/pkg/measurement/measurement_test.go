package measurement

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasurerCountsPerOperation(t *testing.T) {
	m, err := NewMeasurer("")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		m.Measure("TRANSFER", time.Duration(i)*time.Millisecond)
	}
	m.Measure("AUDIT", 0)

	assert.Equal(t, int64(10), m.Count("TRANSFER"))
	assert.Equal(t, int64(1), m.Count("AUDIT"))
	assert.Equal(t, int64(0), m.Count("NONE"))

	var buf bytes.Buffer
	require.NoError(t, m.Output(&buf))
	out := buf.String()
	assert.Contains(t, out, "TRANSFER - Takes(s): ")
	assert.Contains(t, out, "Count: 10,")
	// Sorted by operation.
	assert.True(t, bytes.Index(buf.Bytes(), []byte("AUDIT")) < bytes.Index(buf.Bytes(), []byte("TRANSFER")))
}

func TestOutputStyles(t *testing.T) {
	_, err := NewMeasurer("xml")
	assert.Error(t, err)

	m, err := NewMeasurer(OutputStyleJson)
	require.NoError(t, err)
	m.Measure("COMMUTE", 3*time.Microsecond)

	var buf bytes.Buffer
	require.NoError(t, m.Output(&buf))
	var rows []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "COMMUTE", rows[0]["Operation"])
	assert.Equal(t, "1", rows[0]["Count"])
	assert.Equal(t, "3", rows[0]["Max(us)"])

	buf.Reset()
	m, err = NewMeasurer(OutputStyleTable)
	require.NoError(t, err)
	m.Measure("ENSURE", time.Millisecond)
	require.NoError(t, m.Output(&buf))
	assert.Contains(t, buf.String(), "ENSURE")
	assert.Contains(t, buf.String(), "OPERATION")

	// Nothing measured, nothing printed.
	buf.Reset()
	m, err = NewMeasurer(OutputStylePlain)
	require.NoError(t, err)
	require.NoError(t, m.Output(&buf))
	assert.Equal(t, 0, buf.Len())
}
