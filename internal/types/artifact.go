package types

// ArchivedArtifact is the terminal on-disk object of one manifest key.
type ArchivedArtifact struct {
	Key           ManifestKey `json:"key"`
	CanonicalPath string      `json:"canonical_path"`
	Mirrors       []string    `json:"mirrors,omitempty"`
	Digest        string      `json:"digest"`
	Size          int64       `json:"size"`
	Replicated    bool        `json:"replicated,omitempty"`
}
