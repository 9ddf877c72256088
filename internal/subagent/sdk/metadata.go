package sdk

// Metadata contains identity and version information for a subagent.
type Metadata struct {
	// ID is the unique identifier for this subagent (e.g. "beacon.sysinfo").
	ID string `json:"id"`

	// Name is the human-readable name of the subagent.
	Name string `json:"name"`

	// Version is the semantic version of the subagent.
	Version string `json:"version"`

	// Author is the creator or maintainer of the subagent.
	Author string `json:"author,omitempty"`

	// Description is a brief description of what the subagent collects.
	Description string `json:"description,omitempty"`

	// Tags are searchable keywords for the subagent.
	Tags []string `json:"tags,omitempty"`

	// Capabilities lists the capabilities the subagent expects the core to
	// provide. Missing ones are reported at initialization but never fatal.
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Validate checks that the metadata has all required fields.
func (m Metadata) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.Name == "" {
		return ErrMissingName
	}
	if m.Version == "" {
		return ErrMissingVersion
	}
	return ValidateCapabilities(m.Capabilities)
}

// String returns a string representation of the metadata.
func (m Metadata) String() string {
	return m.ID + "@" + m.Version
}
