package workspace

import "fmt"

// ValidationError reports a bad workspace definition: an unresolved
// reference, a duplicate id, or a cyclic step chain. It is raised at load
// time only; a definition that loads cannot fail these checks at run time.
type ValidationError struct {
	// Ref names the offending id or reference.
	Ref    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workspace definition: %s (%s)", e.Reason, e.Ref)
}
