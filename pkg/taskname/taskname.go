package taskname

const (
	// Notification tasks
	NotifySubmissionConfirmed = "engagement:notify:submission_confirmed"
	NotifyTriggerGranted      = "engagement:notify:trigger_granted"

	// Trigger tasks
	TriggerEvaluate = "engagement:trigger:evaluate"

	// Housekeeping
	PurgeForceConfirmations = "engagement:event:purge_force_confirmations"
)
