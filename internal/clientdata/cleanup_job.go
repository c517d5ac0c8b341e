package clientdata

import "github.com/rs/zerolog"

// CleanupJob removes expired cache rows from every client-data table.
// Registered with the scheduler to run daily.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "clientdata_cleanup").Logger(),
	}
}

// Name returns the job name for scheduler logging.
func (j *CleanupJob) Name() string {
	return "clientdata_cleanup"
}

// Run deletes expired rows from all cache tables.
func (j *CleanupJob) Run() error {
	var total int64
	for _, table := range AllTables {
		removed, err := j.repo.CleanupExpired(table)
		if err != nil {
			j.log.Error().Err(err).Str("table", table).Msg("Cleanup failed")
			return err
		}
		total += removed
	}
	j.log.Debug().Int64("rows", total).Msg("Expired cache rows removed")
	return nil
}
