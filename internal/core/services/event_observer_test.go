package services

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestEventObserver_ToolLifecycle(t *testing.T) {
	bus := NewEventBus(testLogger())
	ch, unsub := bus.Subscribe(BroadcastChannel)
	defer unsub()

	obs := NewEventObserver(bus)

	obs.OnToolStart("web_fetch", `{"url":"https://example.com"}`)
	evt := collectEvent(t, ch)
	assert.Equal(t, EventType("tool_start"), evt.Type)
	var start map[string]string
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &start))
	assert.Equal(t, "web_fetch", start["tool"])

	obs.OnToolEnd("web_fetch", "<html>...</html>")
	evt = collectEvent(t, ch)
	assert.Equal(t, EventType("tool_end"), evt.Type)

	obs.OnToolError("web_fetch", "fetch returned status 503")
	evt = collectEvent(t, ch)
	assert.Equal(t, EventType("tool_error"), evt.Type)
	var errData map[string]string
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &errData))
	assert.Equal(t, "fetch returned status 503", errData["error"])
}

func TestEventObserver_TruncatesToolOutput(t *testing.T) {
	bus := NewEventBus(testLogger())
	ch, unsub := bus.Subscribe(BroadcastChannel)
	defer unsub()

	NewEventObserver(bus).OnToolEnd("web_fetch", strings.Repeat("x", 5000))

	evt := collectEvent(t, ch)
	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &data))
	assert.True(t, strings.HasSuffix(data["output"], "...[truncated]"))
	assert.Less(t, len(data["output"]), 600)
}

func TestEventObserver_PlannerDecision(t *testing.T) {
	bus := NewEventBus(testLogger())
	ch, unsub := bus.Subscribe(BroadcastChannel)
	defer unsub()

	NewEventObserver(bus).OnDecision("execute_tool", "need the current time", 2)

	evt := collectEvent(t, ch)
	assert.Equal(t, EventType("planner_decision"), evt.Type)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &data))
	assert.Equal(t, "execute_tool", data["decision"])
	assert.Equal(t, float64(2), data["iteration"])
}
