package servicemanager

import "fmt"

// Status is the (installed, enabled, running) triple describing a service's
// lifecycle position. It is always derived live from the OS registry and
// never cached; Running implies Installed, and both Enabled and Running
// read false when the service is not installed.
type Status struct {
	Installed bool
	Enabled   bool
	Running   bool
}

func (s Status) String() string {
	return fmt.Sprintf("installed=%t enabled=%t running=%t", s.Installed, s.Enabled, s.Running)
}
