package identity

import (
	"context"
	"sync"
)

type memoryPatients struct {
	mu      sync.RWMutex
	byID    map[string]Patient
	byPhone map[string]string
}

// NewMemoryPatientRepository builds an in-memory patient store for tests and dev.
func NewMemoryPatientRepository() PatientRepository {
	return &memoryPatients{byID: make(map[string]Patient), byPhone: make(map[string]string)}
}

func (r *memoryPatients) Create(_ context.Context, p Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[p.Phone]; exists {
		return ErrDuplicatePhone
	}
	if _, exists := r.byID[p.ID]; exists {
		return ErrDuplicatePhone
	}
	r.byID[p.ID] = clonePatient(p)
	r.byPhone[p.Phone] = p.ID
	return nil
}

func (r *memoryPatients) FindByID(_ context.Context, id string) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return clonePatient(p), nil
}

func (r *memoryPatients) FindByPhone(_ context.Context, phone string) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return clonePatient(r.byID[id]), nil
}

func (r *memoryPatients) Update(_ context.Context, p Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != p.Version {
		return ErrStaleVersion
	}
	if current.Phone != p.Phone {
		if _, taken := r.byPhone[p.Phone]; taken {
			return ErrDuplicatePhone
		}
		delete(r.byPhone, current.Phone)
		r.byPhone[p.Phone] = p.ID
	}
	p.Version++
	r.byID[p.ID] = clonePatient(p)
	return nil
}

type memoryDoctors struct {
	mu      sync.RWMutex
	byID    map[string]Doctor
	byPhone map[string]string
}

// NewMemoryDoctorRepository builds an in-memory doctor store for tests and dev.
func NewMemoryDoctorRepository() DoctorRepository {
	return &memoryDoctors{byID: make(map[string]Doctor), byPhone: make(map[string]string)}
}

func (r *memoryDoctors) Create(_ context.Context, d Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[d.Phone]; exists {
		return ErrDuplicatePhone
	}
	if _, exists := r.byID[d.ID]; exists {
		return ErrDuplicatePhone
	}
	r.byID[d.ID] = cloneDoctor(d)
	r.byPhone[d.Phone] = d.ID
	return nil
}

func (r *memoryDoctors) FindByID(_ context.Context, id string) (Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Doctor{}, ErrNotFound
	}
	return cloneDoctor(d), nil
}

func (r *memoryDoctors) FindByPhone(_ context.Context, phone string) (Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return Doctor{}, ErrNotFound
	}
	return cloneDoctor(r.byID[id]), nil
}

func (r *memoryDoctors) Update(_ context.Context, d Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[d.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != d.Version {
		return ErrStaleVersion
	}
	if current.Phone != d.Phone {
		if _, taken := r.byPhone[d.Phone]; taken {
			return ErrDuplicatePhone
		}
		delete(r.byPhone, current.Phone)
		r.byPhone[d.Phone] = d.ID
	}
	d.Version++
	r.byID[d.ID] = cloneDoctor(d)
	return nil
}
