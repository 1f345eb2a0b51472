package browser

import (
	"encoding/json"
	"fmt"
	"time"
)

// hookJS installs window.__docws on every document: an event buffer drained
// from Go, page lifecycle listeners and accessors over the embedded viewer.
// The viewer page registers its API with window.__docws.attach(apis) once the
// viewer is ready; until then only the native selection is available.
const hookJS = `
(() => {
  if (window.__docws) return;
  const push = (type, value) => window.__docws.events.push({type, value: value || "", ts: Date.now()});
  window.__docws = {
    events: [],
    apis: null,
    push,
    attach(apis) { window.__docws.apis = apis; },
    async selectedContent() {
      const apis = window.__docws.apis;
      if (!apis || typeof apis.getSelectedContent !== "function") return "";
      const res = await apis.getSelectedContent();
      return (res && typeof res.data === "string") ? res.data : "";
    },
    async viewerSelectedText() {
      const apis = window.__docws.apis;
      if (!apis || typeof apis.getSelectedText !== "function") return "";
      const res = await apis.getSelectedText();
      return typeof res === "string" ? res : "";
    },
    async gotoPage(page) {
      const apis = window.__docws.apis;
      if (!apis || typeof apis.gotoLocation !== "function") return false;
      await apis.gotoLocation(page);
      return true;
    },
  };
  document.addEventListener("adobe_dc_view_sdk.ready", () => push("viewer_ready"));
  window.addEventListener("message", (e) => {
    const d = e && e.data;
    if (d && d.type === "PREVIEW_SELECTION_END") push("selection_end");
  });
  window.addEventListener("pagehide", () => push("pagehide"));
  window.addEventListener("beforeunload", () => push("beforeunload"));
  document.addEventListener("visibilitychange", () => {
    if (document.visibilityState === "hidden") push("visibility_hidden");
  });
})()
`

const drainJS = `() => {
  if (!window.__docws) return [];
  const buf = window.__docws.events;
  window.__docws.events = [];
  return buf;
}`

const nativeSelectionJS = `() => {
  const sel = window.getSelection ? window.getSelection() : null;
  return sel ? sel.toString() : "";
}`

const selectedContentJS = `() => window.__docws ? window.__docws.selectedContent() : ""`

const viewerSelectedTextJS = `() => window.__docws ? window.__docws.viewerSelectedText() : ""`

const gotoPageJS = `(page) => window.__docws ? window.__docws.gotoPage(page) : false`

// Event is one entry drained from the page buffer.
type Event struct {
	Type  string    `json:"type"`
	Value string    `json:"value"`
	At    time.Time `json:"-"`
}

type rawEvent struct {
	Type  string  `json:"type"`
	Value string  `json:"value"`
	TS    float64 `json:"ts"`
}

// decodeEvents parses a drained buffer. Entries without a type are skipped.
func decodeEvents(raw []byte) ([]Event, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var in []rawEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode page events: %w", err)
	}
	out := make([]Event, 0, len(in))
	for _, ev := range in {
		if ev.Type == "" {
			continue
		}
		out = append(out, Event{Type: ev.Type, Value: ev.Value, At: time.UnixMilli(int64(ev.TS))})
	}
	return out, nil
}
