package mta

// SignalKind distinguishes how a navigation was observed.
type SignalKind string

const (
	// SignalInitial is the page load that brought the tracker up.
	SignalInitial SignalKind = "initial"
	// SignalHistory is a programmatic history mutation (pushState style).
	SignalHistory SignalKind = "history"
	// SignalPop is a back or forward traversal.
	SignalPop SignalKind = "pop"
	// SignalHash is a fragment-only change.
	SignalHash SignalKind = "hash"
	// SignalManual is an explicit TrackPageView call.
	SignalManual SignalKind = "manual"
)

// Signal is one observed navigation. URL and Title may be empty, in which
// case the tracker falls back to the Page capability.
type Signal struct {
	Kind  SignalKind
	URL   string
	Title string
}

// Source emits navigation signals, typically by bridging a host router or
// history layer. Subscribe registers the callback and returns a cancel
// function; a Source must not invoke the callback after cancel returns.
type Source interface {
	Subscribe(fn func(Signal)) (cancel func())
}
