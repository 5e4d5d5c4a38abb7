package models

// Resource describes a scarce external endpoint shared across workers,
// such as a remote browser control address.
type Resource struct {
	// ID is the unique identifier for this resource.
	ID string `json:"id" yaml:"id"`
	// Address is the endpoint address (e.g., a CDP websocket URL).
	Address string `json:"address" yaml:"address"`
	// External indicates the resource lives outside this process's host.
	External bool `json:"external" yaml:"external"`
	// Name is the human-readable display name.
	Name string `json:"name" yaml:"name"`
}
