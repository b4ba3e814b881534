package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Homiakus/motto/internal/audit"
)

func TestBufferOverwritesOldestOnOverflow(t *testing.T) {
	buf := audit.NewBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Append(audit.Record{Timestamp: time.Unix(int64(i), 0), Kind: "step"})
	}
	snap := buf.Snapshot()
	require := assert.New(t)
	require.Len(snap, 3)
	require.Equal(int64(2), snap[0].Timestamp.Unix())
	require.Equal(int64(3), snap[1].Timestamp.Unix())
	require.Equal(int64(4), snap[2].Timestamp.Unix())
}

func TestBufferSnapshotBeforeFull(t *testing.T) {
	buf := audit.NewBuffer(5)
	buf.Append(audit.Record{Kind: "a"})
	buf.Append(audit.Record{Kind: "b"})
	snap := buf.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Kind)
	assert.Equal(t, "b", snap[1].Kind)
}
