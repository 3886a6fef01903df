package bpfloader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths_Resolve(t *testing.T) {
	p := Paths{Dir: "/sys/fs/bpf/h2"}.resolve()
	assert.Equal(t, filepath.Join("/sys/fs/bpf/h2", EventsMapName), p.Events)
	assert.Equal(t, filepath.Join("/sys/fs/bpf/h2", TCPSeqMapName), p.TCPSeq)

	p = Paths{Dir: "/x", Events: "/custom/events"}.resolve()
	assert.Equal(t, "/custom/events", p.Events)
	assert.Equal(t, "/x/"+TCPSeqMapName, p.TCPSeq)
}

func TestOpen_MissingPin(t *testing.T) {
	_, err := Open(Paths{Dir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventsMapName)
}

func TestLoader_CloseEmpty(t *testing.T) {
	l := &Loader{}
	assert.NoError(t, l.Close())
	assert.Nil(t, l.Correlator())
}
