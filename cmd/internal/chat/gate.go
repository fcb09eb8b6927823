package chat

// ActivityGate tracks whether the chat view is in the foreground.
// Activation clears the unread counter through the hook; it never marks messages read.
type ActivityGate struct {
	active     bool
	onActivate func()
}

// NewActivityGate returns an inactive gate. onActivate may be nil.
func NewActivityGate(onActivate func()) *ActivityGate {
	return &ActivityGate{onActivate: onActivate}
}

// SetActive updates the flag. Every activation runs the hook, even when already active.
func (g *ActivityGate) SetActive(flag bool) {
	g.active = flag
	if flag && g.onActivate != nil {
		g.onActivate()
	}
}

// Active reports the current flag.
func (g *ActivityGate) Active() bool { return g.active }

func (g *ActivityGate) reset() { g.active = false }
