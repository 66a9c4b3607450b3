package domain

// Job is the handle a provider returns on submission. ExternalID and
// ProviderStatus are provider-native and never surface on a Task.
type Job struct {
	Provider       string
	ExternalID     string
	ProviderStatus string
	// Ready holds artifact URLs when the provider answered synchronously.
	Ready []string
}

// PollState is the normalized outcome of a single status check.
type PollState string

const (
	PollProcessing PollState = "processing"
	PollCompleted  PollState = "completed"
	PollFailed     PollState = "failed"
)

// PollResult is what an adapter reports for one poll call.
type PollResult struct {
	State          PollState
	ProviderStatus string
	ArtifactURLs   []string
	Reason         string
}
