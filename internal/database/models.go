package database

// Trend source values.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Job status values. A job moves pending -> generating -> completed|failed;
// stuck-job recovery is the only way back from generating to pending.
const (
	JobPending    = "pending"
	JobGenerating = "generating"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Trend is a topic candidate for article generation.
type Trend struct {
	ID               string
	Title            string
	NormalizedTitle  string
	Source           string
	SearchVolume     int
	Category         *string
	FirstSeenAt      string
	ArticleGenerated bool
}

// Job is one slot of a daily plan.
type Job struct {
	PlanDate    string
	Position    int
	TrendID     string
	Status      string
	ScheduledAt string
	StartedAt   *string
	CompletedAt *string
	ArticleID   *int64
	Error       *string
}

// DailyPlan is the ordered generation queue for one calendar day.
type DailyPlan struct {
	Date      string
	UpdatedAt string
	Jobs      []Job
}

// QuotaUsage holds the persisted call counters for the trend API.
type QuotaUsage struct {
	Day          string
	Month        string
	DailyCount   int
	MonthlyCount int
}

// Article is the stored output of a completed generation job.
type Article struct {
	ID           int64
	TrendID      string
	Title        string
	BodyMarkdown string
	GeneratedAt  string
}

// Stats contains aggregate store statistics for the status surfaces.
type Stats struct {
	TotalTrends     int
	GeneratedTrends int
	Plans           int
	PendingJobs     int
	GeneratingJobs  int
	CompletedJobs   int
	FailedJobs      int
	Articles        int
}
