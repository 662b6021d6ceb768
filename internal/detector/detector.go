package detector

// Detector is a strategy that reports whether a supervised endpoint is up.
// Implementations must be safe for concurrent use and must bound their own
// cost; callers never cancel an in-flight check.
type Detector interface {
	// Alive returns true if the endpoint is detected as reachable.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
