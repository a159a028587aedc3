package paths

// PathManager resolves the on-disk layout of one dataset directory:
//
//	<dataset>/spec.json
//	<dataset>/stats.json
//	<dataset>/db/<table>/split=<split>/part-<ulid>.parquet
//	<dataset>/media/<view>/...
type PathManager interface {
	GetBasePath() string
	GetInfoFile() string
	GetStatsFile() string
	GetMediaPath() string
	GetDBPath() string

	// Table paths
	GetTablePath(table string) string
	GetPartitionPath(table, split string) string
	GetPartFilePattern(table, split string) string
	NewPartFilePath(table, split string) string

	EnsureDirectoryStructure() error
}
