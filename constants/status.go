package constants

// DocStatus is the canonical lifecycle status for rows in documents.
type DocStatus string

// Stable values (store these exact strings in DB).
const (
	StatusQueued     DocStatus = "QUEUED"     // accepted, waiting for a worker
	StatusExtracting DocStatus = "EXTRACTING" // tier cascade in progress
	StatusProcessing DocStatus = "PROCESSING" // structured extraction (LLM) in progress
	StatusVerifying  DocStatus = "VERIFYING"  // cross-checking fields against reference text
	StatusDraft      DocStatus = "DRAFT"      // terminal: extraction completed cleanly
	StatusException  DocStatus = "EXCEPTION"  // terminal: completed but needs human review
	StatusError      DocStatus = "ERROR"      // terminal: a pipeline stage failed hard
	StatusApproved   DocStatus = "APPROVED"   // terminal: reviewed externally
)

// forward lists the allowed next statuses for each status.
// ERROR is additionally reachable from any in-flight status, and reprocessing
// resets any terminal status back to EXTRACTING.
var forward = map[DocStatus][]DocStatus{
	StatusQueued:     {StatusExtracting},
	StatusExtracting: {StatusProcessing},
	StatusProcessing: {StatusVerifying, StatusDraft, StatusException},
	StatusVerifying:  {StatusDraft, StatusException},
	StatusDraft:      {StatusApproved},
	StatusException:  {StatusApproved},
}

// IsTerminal reports whether no automatic transition leaves s.
func (s DocStatus) IsTerminal() bool {
	switch s {
	case StatusDraft, StatusException, StatusError, StatusApproved:
		return true
	}
	return false
}

// InFlight reports whether s belongs to a document currently being processed.
func (s DocStatus) InFlight() bool {
	switch s {
	case StatusExtracting, StatusProcessing, StatusVerifying:
		return true
	}
	return false
}

// CanTransition reports whether moving from -> to is a legal lifecycle step.
func CanTransition(from, to DocStatus) bool {
	if to == StatusError {
		return from.InFlight() || from == StatusQueued
	}
	if to == StatusExtracting && from.IsTerminal() {
		// reprocess reset
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExceptionKind classifies why a document landed in EXCEPTION.
type ExceptionKind string

const (
	ExceptionLowScanQuality     ExceptionKind = "LOW_SCAN_QUALITY"
	ExceptionNeedsInvestigation ExceptionKind = "NEEDS_INVESTIGATION"
	ExceptionValueMismatch      ExceptionKind = "VALUE_MISMATCH"
)
