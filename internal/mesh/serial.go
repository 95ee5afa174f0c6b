package mesh

import "sync"

// serial runs submitted funcs one at a time in submission order. Do never
// blocks, so engine callbacks and the session's own operations can enqueue
// onto it from any goroutine, including from inside a running func.
type serial struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (s *serial) Do(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

// Wait blocks until everything submitted before the call has run.
// Must not be called from inside a submitted func.
func (s *serial) Wait() {
	done := make(chan struct{})
	s.Do(func() { close(done) })
	<-done
}
