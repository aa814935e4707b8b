package pipeline

import (
	"sort"
	"time"
)

// Stages reported in progress events.
const (
	StageFetch  = "fetch"
	StageSettle = "settle"
)

// TaskFailure describes a task that did not complete.
type TaskFailure struct {
	Key      string `json:"key"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason"`
	Terminal bool   `json:"terminal"`
}

// Summary reports what a run did.
type Summary struct {
	RunID              string            `json:"run_id"`
	Candidates         int               `json:"candidates"`
	Tasks              int               `json:"tasks"`
	Archived           int               `json:"archived"`
	Generated          int               `json:"generated"`
	SkippedComplete    int               `json:"skipped_complete"`
	SkippedNotModified int               `json:"skipped_not_modified"`
	Duplicates         int               `json:"duplicates"`
	Failed             int               `json:"failed"`
	Conflicts          int               `json:"conflicts"`
	Demoted            int               `json:"demoted"`
	Failures           []TaskFailure     `json:"failures,omitempty"`
	SourceErrors       map[string]string `json:"source_errors,omitempty"`
	Duration           time.Duration     `json:"duration"`
}

// OK reports whether no task failed.
func (s *Summary) OK() bool {
	return s.Failed == 0 && len(s.SourceErrors) == 0
}

func (s *Summary) sortFailures() {
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Key < s.Failures[j].Key })
}
