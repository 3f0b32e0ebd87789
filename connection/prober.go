package connection

// Default candidate method lists for capability probing. Gateways of
// different vintages expose extended state under different names; the
// prober tries each in order and pins the first one acknowledged.
var (
	DefaultGetStateMethods = []string{
		"mascot.getFullState",
		"gateway.getState",
		"state.get",
	}
	DefaultResetStateMethods = []string{
		"mascot.resetState",
		"gateway.resetState",
		"state.reset",
	}
)

// methodCursor is a forward-only cursor over an immutable ordered list of
// candidate method names. It advances on "method not found" responses and
// never moves backward except through an explicit Rewind.
type methodCursor struct {
	methods []string
	index   int
}

func newMethodCursor(methods []string) *methodCursor {
	return &methodCursor{methods: methods}
}

// Current returns the candidate to try next; false once exhausted
func (c *methodCursor) Current() (string, bool) {
	if c.index >= len(c.methods) {
		return "", false
	}
	return c.methods[c.index], true
}

// Advance moves past the current candidate after a not-found response
func (c *methodCursor) Advance() {
	if c.index < len(c.methods) {
		c.index++
	}
}

// Exhausted reports whether every candidate has been rejected
func (c *methodCursor) Exhausted() bool {
	return c.index >= len(c.methods)
}

// Rewind re-arms the cursor from the first candidate. Only the get-state
// cursor is rewound on a fresh handshake; reset-state progress is kept.
func (c *methodCursor) Rewind() {
	c.index = 0
}
