package selection

import "context"

// Viewer is the embedded document viewer as seen by selection capture.
type Viewer interface {
	// OnSelectionEnd registers fn for the viewer's "selection ended" event.
	OnSelectionEnd(fn func()) (unregister func(), err error)
	// SelectedContent fetches the text of the current selection.
	SelectedContent(ctx context.Context) (string, error)
}

// SelectedTextReader is implemented by viewers exposing a synchronous
// selected-text accessor.
type SelectedTextReader interface {
	SelectedText(ctx context.Context) (string, error)
}

// NativeSelection reads the host page's own text selection.
type NativeSelection interface {
	NativeSelectedText(ctx context.Context) (string, error)
}
