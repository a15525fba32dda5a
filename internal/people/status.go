package people

// Status is a coarse health label derived from consecutive fetch failures.
type Status int

const (
	StatusWorking Status = iota
	StatusDegraded
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusWorking:
		return "working"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ServiceStatus maps the accumulated errors to a Status.
func ServiceStatus(errs []FetchError) Status {
	switch n := len(errs); {
	case n == 0:
		return StatusWorking
	case n <= 2:
		return StatusDegraded
	default:
		return StatusUnavailable
	}
}
