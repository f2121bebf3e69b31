package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	outboxCapacity = 1024
	// finished jobs kept for status queries
	outboxHistory = 1024
)

// ErrOutboxFull is returned by Enqueue when the queue cannot take more jobs.
var ErrOutboxFull = errors.New("outbox full")

// Sender delivers one text message. *modem.Modem satisfies it.
type Sender interface {
	SendSMS(ctx context.Context, recipient, message string) error
}

// JobState is the lifecycle of an outbox job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobSending JobState = "sending"
	JobSent    JobState = "sent"
	JobFailed  JobState = "failed"
)

// Job is a queued text message.
type Job struct {
	ID       string    `json:"id"`
	To       string    `json:"to"`
	Message  string    `json:"-"`
	State    JobState  `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Updated  time.Time `json:"updated"`
}

// Outbox serializes SMS delivery through a single worker with a per-minute
// rate limit and bounded retries.
type Outbox struct {
	sender     Sender
	logger     *zap.Logger
	limit      *Rate
	maxRetries int
	backoff    func() time.Duration
	now        func() time.Time

	queue chan string

	mu       sync.Mutex
	jobs     map[string]*Job
	finished []string
}

// NewOutbox creates an outbox. ratePerMin <= 0 disables rate limiting.
func NewOutbox(sender Sender, ratePerMin, maxRetries int, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		sender:     sender,
		logger:     logger,
		limit:      NewRate(ratePerMin),
		maxRetries: maxRetries,
		backoff:    jitter,
		now:        time.Now,
		queue:      make(chan string, outboxCapacity),
		jobs:       make(map[string]*Job),
	}
}

func jitter() time.Duration {
	return time.Duration(800+rand.IntN(600)) * time.Millisecond
}

// Enqueue queues a message and returns the job as stored. An empty id gets
// a generated one. Enqueuing a known id again returns the existing job and
// sends nothing, so redelivered requests are harmless. Enqueue never blocks.
func (o *Outbox) Enqueue(id, to, message string) (Job, error) {
	if id == "" {
		id = uuid.NewString()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if job, ok := o.jobs[id]; ok {
		o.logger.Debug("duplicate job ignored", zap.String("id", id))
		return *job, nil
	}

	job := &Job{ID: id, To: to, Message: message, State: JobQueued, Updated: o.now()}
	select {
	case o.queue <- id:
	default:
		return Job{}, ErrOutboxFull
	}
	o.jobs[id] = job

	return *job, nil
}

// Status returns a snapshot of the job with the given id.
func (o *Outbox) Status(id string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run delivers queued jobs until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			o.deliver(ctx, id)
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, id string) {
	job, ok := o.Status(id)
	if !ok {
		return
	}
	logger := o.logger.With(zap.String("id", id), zap.String("to", job.To))

	for {
		if err := o.limit.Wait(ctx); err != nil {
			o.finish(id, JobFailed, err)
			return
		}

		attempts := o.update(id, JobSending)
		err := o.sender.SendSMS(ctx, job.To, job.Message)
		if err == nil {
			o.finish(id, JobSent, nil)
			logger.Info("sms delivered", zap.Int("attempts", attempts))
			return
		}

		if attempts > o.maxRetries || ctx.Err() != nil {
			o.finish(id, JobFailed, err)
			logger.Error("sms permanently failed", zap.Int("attempts", attempts), zap.Error(err))
			return
		}

		back := o.backoff()
		logger.Warn("sms send failed, retrying", zap.Error(err), zap.Duration("backoff", back))
		o.update(id, JobQueued)

		select {
		case <-ctx.Done():
			o.finish(id, JobFailed, ctx.Err())
			return
		case <-time.After(back):
		}
	}
}

// update moves the job to state and returns its attempt count.
func (o *Outbox) update(id string, state JobState) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	job := o.jobs[id]
	if state == JobSending {
		job.Attempts++
	}
	job.State = state
	job.Updated = o.now()
	return job.Attempts
}

func (o *Outbox) finish(id string, state JobState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job := o.jobs[id]
	job.State = state
	job.Updated = o.now()
	if err != nil {
		job.Error = err.Error()
	}

	o.finished = append(o.finished, id)
	if len(o.finished) > outboxHistory {
		delete(o.jobs, o.finished[0])
		o.finished = o.finished[1:]
	}
}

// Rate is a sliding one minute window limiter.
type Rate struct {
	mu  sync.Mutex
	cap int
	win []time.Time
	now func() time.Time
}

// NewRate allows nPerMin events per minute. nPerMin <= 0 means unlimited.
func NewRate(nPerMin int) *Rate {
	return &Rate{cap: nPerMin, now: time.Now}
}

// Allow records an event and reports true if it fits in the window.
func (r *Rate) Allow() bool {
	_, ok := r.reserve()
	return ok
}

// Wait blocks until an event fits in the window or ctx is done.
func (r *Rate) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records an event if the window has room. Otherwise it returns
// how long until the oldest event leaves the window.
func (r *Rate) reserve() (time.Duration, bool) {
	if r.cap <= 0 {
		return 0, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cut := now.Add(-time.Minute)
	kept := r.win[:0]
	for _, t := range r.win {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.win = kept

	if len(r.win) >= r.cap {
		return r.win[0].Sub(cut), false
	}
	r.win = append(r.win, now)
	return 0, true
}
