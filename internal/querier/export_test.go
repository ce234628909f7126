package querier

var (
	LatestCommonVersion = latestCommonVersion
	NewerVersion        = newerVersion
)
