package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/h2trace/internal/config"
)

func testApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return &app{cfg: cfg, log: logger}
}

type line struct {
	Stream    uint32 `json:"stream"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Protocol  string `json:"protocol"`
	Seq       uint32 `json:"seq"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

func TestSelftest(t *testing.T) {
	a := testApp(t)
	defer a.close()

	var stdout, stderr bytes.Buffer
	cmd := newSelftestCmd(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--format", "json"})
	require.NoError(t, cmd.Execute())

	var lines []line
	for _, raw := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var l line
		require.NoError(t, json.Unmarshal([]byte(raw), &l), raw)
		lines = append(lines, l)
	}

	// 3+1 client, 4+1 grpc, 9+1 server request, 3+1 server response.
	require.Len(t, lines, 23)

	assert.Equal(t, ":method", lines[0].Name)
	assert.Equal(t, uint32(1), lines[0].Stream)
	assert.Equal(t, "request_end", lines[3].Kind)

	assert.Equal(t, ":path", lines[5].Name)
	assert.Equal(t, "http2+tls", lines[5].Protocol)
	assert.Equal(t, uint32(5), lines[5].Stream)

	for _, l := range lines[9:19] {
		assert.Equal(t, "ingress", l.Direction)
		assert.Equal(t, uint32(4800), l.Seq)
	}
	assert.Equal(t, "request_end", lines[18].Kind)

	assert.Equal(t, ":status", lines[19].Name)
	assert.Equal(t, "200", lines[19].Value)
	assert.Equal(t, "response_end", lines[22].Kind)

	out := stderr.String()
	assert.Contains(t, out, "h2trace.events.emitted")
	assert.Regexp(t, `h2trace\.fields\.truncated\s+4`, out)
	assert.Regexp(t, `h2trace\.sockets\.allocated\s+4`, out)
}

func TestSelftest_Filter(t *testing.T) {
	a := testApp(t)
	defer a.close()

	var stdout bytes.Buffer
	cmd := newSelftestCmd(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--filter", `name == ":status"`, "--label", "svc=tls ? 'secure' : 'plain'"})
	require.NoError(t, cmd.Execute())

	out := strings.TrimSpace(stdout.String())
	assert.Equal(t, 1, strings.Count(out, "\n")+1)
	assert.Contains(t, out, "200")
	assert.Contains(t, out, "svc=plain")
}
