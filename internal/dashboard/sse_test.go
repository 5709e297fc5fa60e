package dashboard

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, rd *bufio.Reader) string {
	t.Helper()
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	s := NewSSEServer(time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleSSE))
	defer srv.Close()
	defer s.Stop()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	assert.Contains(t, readEvent(t, rd), `"type":"connected"`)
	assert.Equal(t, 1, s.GetClientCount())

	s.Broadcast("run_finished", map[string]interface{}{"kind": "maestro", "ok": true})
	ev := readEvent(t, rd)
	assert.Contains(t, ev, `"type":"run_finished"`)
	assert.Contains(t, ev, `"kind":"maestro"`)
}

func TestBroadcastWithoutClients(t *testing.T) {
	s := NewSSEServer(time.Hour)
	defer s.Stop()
	s.Broadcast("run_started", nil)
	assert.Zero(t, s.GetClientCount())
	s.Stop()
}

func TestPingAndDisconnect(t *testing.T) {
	s := NewSSEServer(20 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleSSE))
	defer srv.Close()
	defer s.Stop()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	rd := bufio.NewReader(resp.Body)
	assert.Contains(t, readEvent(t, rd), `"type":"connected"`)
	assert.Contains(t, readEvent(t, rd), `"type":"ping"`)

	resp.Body.Close()
	require.Eventually(t, func() bool { return s.GetClientCount() == 0 }, 3*time.Second, 20*time.Millisecond)
}
