package cmn

import "fmt"

// Assert panics if cond is false. Reserved for invariants that spec.md's
// error taxonomy classifies as Inconsistency: ref-count underflow, negative
// allocated-size, an empty allocation set on a live histogram entry. These
// conditions indicate a bug in the scheduler itself, not bad caller input,
// so the process is expected to be restarted on top of the ephemeral state
// (spec.md section 7).
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is Assert with a formatted message.
func AssertMsg(cond bool, msg string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+msg, args...))
	}
}
