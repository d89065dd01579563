package domain

// Container represents the tracker container managed by the container runtime.
type Container struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Image  string   `json:"image"`
	Status string   `json:"status"`
	State  string   `json:"state"` // running, exited, etc.
	Ports  []string `json:"ports,omitempty"`
}
