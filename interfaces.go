package recon

// ProblemStore caches analysis results between batch runs.
type ProblemStore interface {
	// Store saves the problems reported for a file
	Store(path string, problems []Problem) error

	// Lookup returns the cached problems for a file, or ErrEntryNotFound
	// when the file or one of its dependencies changed
	Lookup(path string) ([]Problem, error)
}
