package transfer

import "sync"

// State tracks one in-flight artifact download. A State is created by the
// downloader when a download is accepted and discarded when it ends.
type State struct {
	ID string

	mu       sync.Mutex
	progress int

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
}

// NewState returns the state for a newly accepted download.
func NewState(id string) *State {
	return &State{
		ID:     id,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Cancel requests cancellation. It reports whether this call was the one
// that flipped the flag.
func (s *State) Cancel() bool {
	flipped := false

	s.cancelOnce.Do(func() {
		close(s.cancel)
		flipped = true
	})

	return flipped
}

// Cancelled is closed once cancellation has been requested.
func (s *State) Cancelled() <-chan struct{} {
	return s.cancel
}

// IsCancelled reports whether cancellation has been requested.
func (s *State) IsCancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// Progress returns the last observed percentage of the current attempt.
func (s *State) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.progress
}

// SetProgress records the last observed percentage.
func (s *State) SetProgress(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = p
}

// Finish marks the download as ended, whatever the outcome.
func (s *State) Finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the download has ended.
func (s *State) Done() <-chan struct{} {
	return s.done
}
