package transfer

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type JobScheduler struct {
	scheduler *cron.Cron
	logger    *logrus.Entry
	job       cron.Job
	jobID     cron.EntryID
}

// NewJobScheduler registers job on a cron expression. Six fields enable second-level scheduling.
func NewJobScheduler(logger *logrus.Entry, frequency string, job cron.Job) (*JobScheduler, error) {
	scheduler := cron.New()

	logger.Infof("enabling periodic job with cron expression: '%s'", frequency)
	if strings.Count(strings.TrimSpace(frequency), " ") == 5 {
		logger.Warn("job contains 'second level' scheduling. This may cause performance issues in production scenarios")
		scheduler = cron.New(cron.WithSeconds())
	}

	jobID, err := scheduler.AddJob(frequency, job)
	if err != nil {
		return nil, err
	}

	return &JobScheduler{
		scheduler: scheduler,
		logger:    logger,
		job:       job,
		jobID:     jobID,
	}, nil
}

func (js *JobScheduler) Start() {
	js.scheduler.Start()
}

func (js *JobScheduler) NextRun() time.Time {
	return js.scheduler.Entry(js.jobID).Next
}

// Stop removes the job and waits for a running invocation to return.
func (js *JobScheduler) Stop() {
	js.scheduler.Remove(js.jobID)
	<-js.scheduler.Stop().Done()
}
