package booking

import (
	"fmt"
	"sync"
	"time"

	"fotoagenda/internal/models"
)

// dayLocks serializes writers per (service, date). Entries are dropped once
// no goroutine holds or waits on them.
type dayLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newDayLocks() *dayLocks {
	return &dayLocks{locks: make(map[string]*refLock)}
}

func lockKey(serviceID int64, date time.Time) string {
	return fmt.Sprintf("%d/%s", serviceID, date.Format(models.DateLayout))
}

// Lock blocks until the (service, date) key is free and returns its release func.
func (d *dayLocks) Lock(serviceID int64, date time.Time) func() {
	key := lockKey(serviceID, date)

	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &refLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

func (d *dayLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
