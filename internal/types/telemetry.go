package types

// CloudWatch metric names and dimensions emitted by the cron jobs.
const (
	MetricPostsClaimed      = "PostsClaimed"
	MetricPostsDropped      = "PostsDropped"
	MetricMailSent          = "MailSent"
	MetricMailFailed        = "MailFailed"
	MetricDigestQueued      = "DigestQueued"
	MetricDigestsSent       = "DigestsSent"
	MetricReadRecordsPurged = "ReadRecordsPurged"
	MetricRunDuration       = "RunDuration"

	DimJob = "Job"

	MetricNamespace = "Quora"
)
