package party

import (
	"errors"
	"fmt"

	"lexline/internal/domain"
)

var (
	// ErrDuplicateParty means the identifier is already registered. This
	// is a caller bug, not a user-facing condition.
	ErrDuplicateParty = errors.New("duplicate party")
	ErrNotFound       = errors.New("party not found")
)

// Registry owns the ordered set of case participants for one wizard
// session. It never touches external client storage; registered parties
// only carry a read-only reference to their directory record.
type Registry struct {
	parties []domain.Party
}

// Add accepts a registered or manually-entered party.
func (r *Registry) Add(p domain.Party) error {
	if p.ID == "" {
		return errors.New("party id required")
	}
	if p.Name == "" {
		return errors.New("party name required")
	}
	if _, ok := r.index(p.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParty, p.ID)
	}
	if p.Role != "" {
		if err := domain.ValidateRole(p.Role); err != nil {
			return err
		}
	}
	if p.Origin == "" {
		p.Origin = domain.OriginManual
	}
	r.parties = append(r.parties, p)
	return nil
}

// Remove drops a party by id. Parties are removed by explicit action
// only, never implicitly.
func (r *Registry) Remove(id string) error {
	i, ok := r.index(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.parties = append(r.parties[:i], r.parties[i+1:]...)
	return nil
}

// SetRole assigns a procedural role to a party.
func (r *Registry) SetRole(id string, role domain.Role) error {
	if err := domain.ValidateRole(role); err != nil {
		return err
	}
	i, ok := r.index(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.parties[i].Role = role
	return nil
}

// Get returns a party by id.
func (r *Registry) Get(id string) (domain.Party, bool) {
	i, ok := r.index(id)
	if !ok {
		return domain.Party{}, false
	}
	return r.parties[i], true
}

// List returns a copy of the parties in insertion order.
func (r *Registry) List() []domain.Party {
	out := make([]domain.Party, len(r.parties))
	copy(out, r.parties)
	return out
}

func (r *Registry) Len() int { return len(r.parties) }

// AllRolesAssigned reports whether every party has a role.
func (r *Registry) AllRolesAssigned() bool {
	for _, p := range r.parties {
		if p.Role == "" {
			return false
		}
	}
	return true
}

// FromClient builds a registered party from a directory record.
func FromClient(rec domain.ClientRecord) domain.Party {
	return domain.Party{
		ID:      rec.ID,
		Name:    rec.Name,
		TaxID:   rec.TaxID,
		Address: rec.Address,
		City:    rec.City,
		State:   rec.State,
		Origin:  domain.OriginRegistered,
	}
}

func (r *Registry) index(id string) (int, bool) {
	for i, p := range r.parties {
		if p.ID == id {
			return i, true
		}
	}
	return 0, false
}
