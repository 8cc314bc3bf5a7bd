package poller

// State is the step a cycle is in.
type State string

// Cycle states, in pipeline order.
const (
	StateIdle              State = "idle"
	StateAuthenticating    State = "authenticating"
	StateResolvingProjects State = "resolving_projects"
	StateFetchingActive    State = "fetching_active"
	StateFetchingRecent    State = "fetching_recent"
	StateFetchingWatched   State = "fetching_watched"
	StateNotifying         State = "notifying"
	StateFetchingPRs       State = "fetching_prs"
	StateSyncingBookmarks  State = "syncing_bookmarks"
	StatePersisting        State = "persisting"
	StateSchedulingNext    State = "scheduling_next"
)
