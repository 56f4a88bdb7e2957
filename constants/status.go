package constants

// JobState is the canonical lifecycle state for rows in extract_jobs.
type JobState string

// Stable values (store these exact strings in DB).
const (
	JobStatePending    JobState = "pending"    // record created, waiting for a trigger
	JobStateProcessing JobState = "processing" // extraction in flight
	JobStateProcessed  JobState = "processed"  // terminal success, result attached
	JobStateFailed     JobState = "failed"     // terminal failure, error detail attached
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobState) IsTerminal() bool {
	return s == JobStateProcessed || s == JobStateFailed
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateProcessed, JobStateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move.
// The only legal edges are pending -> processing and processing -> processed|failed.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStatePending:
		return to == JobStateProcessing
	case JobStateProcessing:
		return to == JobStateProcessed || to == JobStateFailed
	}
	return false
}
