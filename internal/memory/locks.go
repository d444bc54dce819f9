package memory

import "sync"

// personaLocks hands out one mutex per persona.
type personaLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPersonaLocks() *personaLocks {
	return &personaLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *personaLocks) get(personaID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[personaID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[personaID] = l
	}
	return l
}
