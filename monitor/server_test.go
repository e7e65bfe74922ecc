package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const branch = 0xEA000000

func newCache(t *testing.T) (*tcache.TranslationCache, *guest.FlatMemory) {
	t.Helper()
	mem := guest.NewFlatMemory(true)
	mem.WriteWords(0x8000, 0xE1A00000, branch)
	tc, err := tcache.New(tcache.DefaultConfig(false), mem, nil)
	require.NoError(t, err)
	return tc, mem
}

func insertBlock(t *testing.T, tc *tcache.TranslationCache) uint32 {
	t.Helper()
	idx := tc.Index(0x8000)
	require.NoError(t, tc.Insert(idx, tcache.Entry{
		Start:    0x8000,
		End:      0x8004,
		Hypered:  branch,
		TrapWord: arm.HypercallARM(idx),
		Type:     tcache.ARM,
	}))
	return idx
}

func newTestServer(t *testing.T, tc *tcache.TranslationCache) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(tc)
	s.Start(ctx)
	ts := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts
}

func TestSummaryCountsEvents(t *testing.T) {
	tc, _ := newCache(t)
	s := NewServer(tc)
	idx := insertBlock(t, tc)
	tc.Remove(idx)

	sum := s.Summary()
	assert.Equal(t, uint64(1), sum.Events[tcache.EventInsert])
	assert.Equal(t, uint64(1), sum.Events[tcache.EventRemove])
	assert.Equal(t, uint64(1), sum.Stats.Inserts)
	assert.Zero(t, sum.Stats.Valid)
	assert.Zero(t, sum.Clients)
}

func TestStatsEndpoint(t *testing.T) {
	tc, _ := newCache(t)
	_, ts := newTestServer(t, tc)
	insertBlock(t, tc)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sum Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, uint32(1), sum.Stats.Valid)
	assert.Equal(t, uint64(1), sum.Events[tcache.EventInsert])
}

func TestChartsEndpoint(t *testing.T) {
	tc, _ := newCache(t)
	_, ts := newTestServer(t, tc)
	insertBlock(t, tc)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "echarts"))
	assert.True(t, strings.Contains(string(body), "Meta-cache occupancy"))

	resp, err = http.Get(ts.URL + "/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketStreamsEvents(t *testing.T) {
	tc, _ := newCache(t)
	s, ts := newTestServer(t, tc)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Summary().Clients == 1 }, 2*time.Second, 10*time.Millisecond)

	idx := insertBlock(t, tc)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev tcache.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, tcache.EventInsert, ev.Kind)
	assert.Equal(t, idx, ev.Index)
	assert.Equal(t, uint32(0x8000), ev.Start)
}
