package chat

import "sync"

// userLocks serializes work per user id so a burst of messages from
// one user cannot interleave inside the pipeline. Entries are created
// on demand and kept; the user population is small and long-lived.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (u *userLocks) lock(id string) (unlock func()) {
	u.mu.Lock()
	l, ok := u.locks[id]
	if !ok {
		l = &sync.Mutex{}
		u.locks[id] = l
	}
	u.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// jobGroup tracks detached background work so shutdown can drain it.
type jobGroup struct {
	wg sync.WaitGroup
}

func (j *jobGroup) run(fn func()) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		fn()
	}()
}

func (j *jobGroup) wait() {
	j.wg.Wait()
}
