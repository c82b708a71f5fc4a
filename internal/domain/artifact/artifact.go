// Package artifact defines run artifacts and the policy that bounds their
// extraction from a workspace.
package artifact

// Artifact is one file produced by a run and uploaded alongside its envelope.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Policy bounds artifact extraction. Extraction stops as soon as either cap
// would be exceeded.
type Policy struct {
	MaxArtifacts  int   `json:"max_artifacts,omitempty"`
	MaxTotalBytes int64 `json:"max_total_bytes,omitempty"`
}

// DefaultPolicy is applied when a dispatch request carries no policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxArtifacts:  50,
		MaxTotalBytes: 64 << 20,
	}
}

// OrDefault returns p, substituting defaults for unset caps.
func (p Policy) OrDefault() Policy {
	d := DefaultPolicy()
	if p.MaxArtifacts <= 0 {
		p.MaxArtifacts = d.MaxArtifacts
	}
	if p.MaxTotalBytes <= 0 {
		p.MaxTotalBytes = d.MaxTotalBytes
	}
	return p
}
