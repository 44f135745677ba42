package gc

// A Tracer is a payload type that can report the handles it holds. Trace must
// call Mark on every Handle directly embedded in the value and delegate to the
// Trace method of any embedded aggregate that may itself contain handles.
//
// Trace does not follow a handle into its target's payload: the collector
// traces the payload of each cell once, when its mark bit goes from false to
// true, which is what makes cyclic graphs terminate. Checking Marked before
// calling Mark is allowed but not required:
//
//	if !h.Marked() {
//		h.Mark()
//	}
//
// The default payload of a freshly allocated cell is the zero value of the
// type, so a Tracer should make its zero value mean "uninitialized".
type Tracer interface {
	Trace()
}
