package schedule

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryDirectory is a map-backed Directory used by tests and the
// simulation harness.
type InMemoryDirectory struct {
	mu            sync.RWMutex
	professionals map[uuid.UUID]*Professional
	services      map[uuid.UUID]*Service
	blocks        map[uuid.UUID][]WeeklyScheduleBlock
	breaks        map[uuid.UUID][]BreakBlock
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		professionals: make(map[uuid.UUID]*Professional),
		services:      make(map[uuid.UUID]*Service),
		blocks:        make(map[uuid.UUID][]WeeklyScheduleBlock),
		breaks:        make(map[uuid.UUID][]BreakBlock),
	}
}

func (d *InMemoryDirectory) AddProfessional(p Professional) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.professionals[p.ID] = &p
}

func (d *InMemoryDirectory) AddService(s Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[s.ID] = &s
}

func (d *InMemoryDirectory) AddScheduleBlock(b WeeklyScheduleBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[b.ProfessionalID] = append(d.blocks[b.ProfessionalID], b)
}

func (d *InMemoryDirectory) AddBreak(b BreakBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breaks[b.ProfessionalID] = append(d.breaks[b.ProfessionalID], b)
}

func (d *InMemoryDirectory) Professional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *InMemoryDirectory) Service(ctx context.Context, id uuid.UUID) (*Service, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *InMemoryDirectory) ScheduleBlocks(ctx context.Context, professionalID uuid.UUID) ([]WeeklyScheduleBlock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]WeeklyScheduleBlock(nil), d.blocks[professionalID]...), nil
}

func (d *InMemoryDirectory) Breaks(ctx context.Context, professionalID uuid.UUID) ([]BreakBlock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]BreakBlock(nil), d.breaks[professionalID]...), nil
}
