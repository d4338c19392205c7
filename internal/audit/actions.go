package audit

// Audit actions. Commands carry the operator as actor; transitions the engine
// makes on its own carry ActorEngine.
const (
	ActionRunCreate     = "run.create"
	ActionRunApprove    = "run.approve"
	ActionRunReject     = "run.reject"
	ActionRunRetry      = "run.retry"
	ActionRunResume     = "run.resume"
	ActionRunCancel     = "run.cancel"
	ActionRunDelete     = "run.delete"
	ActionRunPause      = "run.pause"
	ActionRunContinue   = "run.continue"
	ActionRunTransition = "run.transition"

	ActionStepTransition = "step.transition"

	ActionSettingChange = "setting.change"
	ActionReviewUpdate  = "review.update"
	ActionSyncUpdate    = "sync.update"
)

// Resource types.
const (
	ResourceRun     = "run"
	ResourceStep    = "step"
	ResourceSetting = "setting"
	ResourceReview  = "review_request"
	ResourceSync    = "sync_status"
)

// ActorEngine is the actor of engine-driven transitions.
const ActorEngine = "system:engine"
