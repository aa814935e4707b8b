package types

// FallbackKind describes what to do when no direct URL of a task succeeds.
type FallbackKind string

const (
	// FallbackNone means the task simply fails
	FallbackNone FallbackKind = "none"
	// FallbackDownsample generates the tier from a higher tier already obtained
	FallbackDownsample FallbackKind = "downsample"
)

// Fallback is the local-generation plan of a task.
type Fallback struct {
	Kind FallbackKind `json:"kind"`
	From Resolution   `json:"from,omitempty"`
}

// FetchTask is one resolution attempt for one candidate.
type FetchTask struct {
	Key        ManifestKey      `json:"key"`
	Candidate  *CandidateRecord `json:"-"`
	Resolution Resolution       `json:"resolution"`
	URLs       []string         `json:"urls"`
	Fallback   Fallback         `json:"fallback"`
	// Normalize shrinks any fetched image larger than the tier box into it.
	Normalize bool `json:"normalize"`
	// Crop resizes and center-crops the result to exactly the tier box.
	Crop bool `json:"crop"`
}

// ID returns the task identity, which is its manifest key.
func (t *FetchTask) ID() string {
	return t.Key.String()
}

// Local reports whether the task can only be satisfied without a network call.
func (t *FetchTask) Local() bool {
	return len(t.URLs) == 0 && t.Fallback.Kind == FallbackDownsample
}
