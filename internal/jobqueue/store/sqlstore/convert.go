package sqlstore

import (
	"github.com/yungbote/taskforge/internal/jobqueue"
)

func toJob(r *Row) *jobqueue.Job {
	if r == nil {
		return nil
	}
	return &jobqueue.Job{
		ID:          r.ID,
		QueueName:   r.QueueName,
		JobRunID:    r.JobRunID,
		TaskType:    r.TaskType,
		Input:       []byte(r.Input),
		Fingerprint: r.Fingerprint,
		Status:      jobqueue.Status(r.Status),
		Output:      []byte(r.Output),
		Error:       r.Error,
		Retries:     r.Retries,
		MaxRetries:  r.MaxRetries,
		RunAfter:    r.RunAfter,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeadlineAt:  r.DeadlineAt,
	}
}

func fromJob(j *jobqueue.Job) *Row {
	return &Row{
		ID:          j.ID,
		QueueName:   j.QueueName,
		JobRunID:    j.JobRunID,
		TaskType:    j.TaskType,
		Input:       j.Input,
		Fingerprint: j.Fingerprint,
		Status:      string(j.Status),
		Output:      j.Output,
		Error:       j.Error,
		Retries:     j.Retries,
		MaxRetries:  j.MaxRetries,
		RunAfter:    j.RunAfter,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		DeadlineAt:  j.DeadlineAt,
	}
}
