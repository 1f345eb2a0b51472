package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docworkspace/internal/lifecycle"
)

func TestDecodeEvents(t *testing.T) {
	events, err := decodeEvents([]byte(`[
		{"type":"selection_end","ts":1700000000000},
		{"type":"","value":"ignored"},
		{"type":"visibility_hidden","value":"","ts":1700000000500}
	]`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "selection_end", events[0].Type)
	require.Equal(t, time.UnixMilli(1700000000000), events[0].At)
	require.Equal(t, "visibility_hidden", events[1].Type)

	events, err = decodeEvents([]byte("null"))
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = decodeEvents([]byte(`{"type":"pagehide"}`))
	require.Error(t, err)
}

func TestDispatchRoutesEvents(t *testing.T) {
	d := New(Config{}, nil, nil)
	calls := 0
	unregister, err := d.OnSelectionEnd(func() { calls++ })
	require.NoError(t, err)

	d.dispatch([]Event{{Type: "selection_end"}, {Type: "viewer_ready"}, {Type: "pagehide"}})
	require.Equal(t, 1, calls)
	require.Equal(t, lifecycle.SignalPageHide, <-d.Signals())

	unregister()
	d.dispatch([]Event{{Type: "selection_end"}})
	require.Equal(t, 1, calls)
}

func TestDispatchCoalescesSignalsWhenNobodyListens(t *testing.T) {
	d := New(Config{}, nil, nil)
	for i := 0; i < 10; i++ {
		d.dispatch([]Event{{Type: "visibility_hidden"}})
	}
	require.Len(t, d.Signals(), cap(d.signals))
}

func TestAccessorsBeforeStart(t *testing.T) {
	d := New(Config{}, nil, nil)
	_, err := d.SelectedContent(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = d.GotoPage(context.Background(), 2)
	require.ErrorIs(t, err, ErrNotStarted)
	require.NoError(t, d.Close())
}
