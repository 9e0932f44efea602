// Package dbhook implements the inbound-mailbox dispatcher of spec
// §4.8, ported from original_source/src/dbhook.c's
// rsdb_hook_add/rsdb_hook_call/rsdb_hook_schedule. A hooked table is
// polled on a schedule with one SELECT of every row carrying the hook
// value, invoking a callback per row; rows whose callback reports
// success are deleted in one transaction that also flushes the run's
// side-effect queue. A Callback receives only its Row and has no
// handle on that queue, so callbacks cannot add writes to it and the
// flush finds it empty. This gives the account registry an
// "inbound mailbox" for cross-process register/setpass/setemail
// requests delivered through the `users_sync` table (spec §6).
//
// The periodic-poll-with-callback shape is adapted from the teacher
// repo's standalone `syncmap.RemoteMap`, which polls a remote JSON
// endpoint on a timer and reports added/updated/deleted keys via
// callbacks — generalized here from an HTTP GET to a SQL SELECT, and
// from a key/value map to row deletion, since the mailbox's job is
// draining processed rows rather than mirroring remote state.
package dbhook

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/sched"
)

// Row is one pending mailbox entry.
type Row struct {
	ID   uint64
	Data string
}

// Callback processes one row, returning true if it was handled and
// should be deleted.
type Callback func(row Row) bool

// Dispatcher owns every hooked table.
type Dispatcher struct {
	db    *gorm.DB
	sched *sched.Scheduler
	hooks map[string]*hook
}

type hook struct {
	table    string
	hookVal  string
	callback Callback
	schedID  sched.ID
}

// New creates a Dispatcher. db is the persistence gateway's raw
// handle (store.Store.DB()); sched is the shared event scheduler so
// each hooked table's poll is just another scheduled event.
func New(db *gorm.DB, scheduler *sched.Scheduler) *Dispatcher {
	return &Dispatcher{db: db, sched: scheduler, hooks: make(map[string]*hook)}
}

// Add registers table to be polled every frequency for rows whose
// `hook` column equals hookValue, invoking callback per row.
func (d *Dispatcher) Add(table, hookValue string, frequency time.Duration, callback Callback) {
	h := &hook{table: table, hookVal: hookValue, callback: callback}
	h.schedID = d.sched.AddPeriodic(fmt.Sprintf("dbhook:%s:%s", table, hookValue), frequency, func(time.Time) {
		d.run(h)
	})
	d.hooks[table+"/"+hookValue] = h
}

// Remove cancels a previously added hook.
func (d *Dispatcher) Remove(table, hookValue string) {
	key := table + "/" + hookValue
	if h, ok := d.hooks[key]; ok {
		d.sched.Remove(h.schedID)
		delete(d.hooks, key)
	}
}

type mailboxRow struct {
	ID   uint64
	Data string
}

func (d *Dispatcher) run(h *hook) {
	var rows []mailboxRow
	if err := d.db.Table(h.table).
		Select("id, data").
		Where("hook = ?", h.hookVal).
		Find(&rows).Error; err != nil {
		return
	}
	if len(rows) == 0 {
		return
	}

	var toDelete []uint64
	sideEffects := newScheduleQueue()

	for _, r := range rows {
		ctxRow := Row{ID: r.ID, Data: r.Data}
		if h.callback(ctxRow) {
			toDelete = append(toDelete, r.ID)
		}
	}

	d.db.Transaction(func(tx *gorm.DB) error {
		if len(toDelete) > 0 {
			if err := tx.Table(h.table).Where("id IN ?", toDelete).Delete(&mailboxRow{}).Error; err != nil {
				return err
			}
		}
		return sideEffects.flush(tx)
	})
}

// scheduleQueue mirrors rsdb_hook_schedule/rsdb_hook_schedule_execute:
// writes queued on it are flushed inside the same transaction that
// deletes the processed mailbox rows. run creates one per poll and
// does not pass it to the Callback.
type scheduleQueue struct {
	fns []func(tx *gorm.DB) error
}

func newScheduleQueue() *scheduleQueue { return &scheduleQueue{} }

// Schedule queues fn to run inside the current hook's commit
// transaction, after the processed rows are deleted for this run but
// as part of the same atomic commit.
func (q *scheduleQueue) Schedule(fn func(tx *gorm.DB) error) {
	q.fns = append(q.fns, fn)
}

func (q *scheduleQueue) flush(tx *gorm.DB) error {
	for _, fn := range q.fns {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}
