package supervisor

// Subscribe registers fn for readiness notifications and returns a
// function that removes it. fn is called without supervisor locks held
// and must not block.
func (s *WorkerSupervisor) Subscribe(fn func(Event)) func() {
	s.subLock.Lock()
	defer s.subLock.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.subLock.Lock()
		defer s.subLock.Unlock()

		delete(s.subscribers, id)
	}
}

func (s *WorkerSupervisor) emit(event Event) {
	s.subLock.Lock()
	fns := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subLock.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
