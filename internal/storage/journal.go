// Package storage persists an optional journal of alarms and homing runs
// to PostgreSQL.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/homing"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
)

// Store is where journal entries end up.
type Store interface {
	InsertAlarm(ctx context.Context, e *AlarmEvent) error
	InsertHomingRun(ctx context.Context, r *HomingRun) error
}

var _ Store = (*PostgresClient)(nil)

// Journal writes entries from a background goroutine so observers on the
// main task never wait on the database. Entries are dropped when the
// buffer is full.
type Journal struct {
	logger  *zap.Logger
	store   Store
	entries chan any
	timeout time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewJournal(logger *zap.Logger, store Store, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{
		logger:   logger,
		store:    store,
		entries:  make(chan any, buffer),
		timeout:  5 * time.Second,
		stopChan: make(chan struct{}),
	}
}

// Bind subscribes the journal to alarms and homing runs.
func (j *Journal) Bind(sys *machine.System, homer *homing.Coordinator) {
	sys.OnAlarm(func(code machine.AlarmCode) {
		j.RecordAlarm(code, sys.State())
	})
	if homer != nil {
		homer.AddObserver(j)
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.run()
}

// Stop drains queued entries and waits for the writer to exit.
func (j *Journal) Stop() {
	j.once.Do(func() { close(j.stopChan) })
	j.wg.Wait()
}

// RecordAlarm queues an alarm entry.
func (j *Journal) RecordAlarm(code machine.AlarmCode, state machine.State) {
	j.enqueue(&AlarmEvent{
		ID:         uuid.New(),
		Code:       uint8(code),
		Name:       code.String(),
		Fatal:      code.IsFatal(),
		State:      state.String(),
		OccurredAt: time.Now(),
	})
}

// HomingFinished queues a homing run entry.
func (j *Journal) HomingFinished(run homing.Run) {
	entry := &HomingRun{
		ID:        run.ID,
		Axes:      run.Axes.String(),
		StartedAt: run.Started,
		Duration:  run.Duration,
	}
	if run.Err != nil {
		msg := run.Err.Error()
		entry.Error = &msg
		var code machine.AlarmCode
		if errors.As(run.Err, &code) {
			c := int16(code)
			entry.Alarm = &c
		}
	}
	j.enqueue(entry)
}

func (j *Journal) enqueue(entry any) {
	select {
	case j.entries <- entry:
	default:
		j.logger.Warn("Journal buffer full, dropping entry")
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	for {
		select {
		case entry := <-j.entries:
			j.write(entry)
		case <-j.stopChan:
			for {
				select {
				case entry := <-j.entries:
					j.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(entry any) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	var err error
	switch e := entry.(type) {
	case *AlarmEvent:
		err = j.store.InsertAlarm(ctx, e)
	case *HomingRun:
		err = j.store.InsertHomingRun(ctx, e)
	}
	if err != nil {
		j.logger.Error("Journal write failed", zap.Error(err))
	}
}
