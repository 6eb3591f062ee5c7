package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/store"
)

// Registration is the contact data shared by a user.
type Registration struct {
	ID       int64
	Name     string
	Username string
	Phone    string
}

// RegisterUser creates or refreshes a user and infers the role: allow-listed
// admins and couriers first, then staff whose phone matches a service center,
// then the role already stored, and client otherwise.
func (s *Service) RegisterUser(ctx context.Context, in Registration) (store.User, error) {
	if in.ID == 0 {
		return store.User{}, fmt.Errorf("%w: user id is required", lifecycle.ErrInvalidTransition)
	}
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	centers := s.stores.ServiceCenters.List(nil)

	var out store.User
	err := s.stores.Users.Update(func(tx *store.Tx[store.User]) error {
		u, err := tx.Get(in.ID)
		if errors.Is(err, store.ErrNotFound) {
			u = store.User{ID: in.ID, CreatedAt: s.now()}
		}
		if in.Name != "" {
			u.Name = in.Name
		}
		if in.Username != "" {
			u.Username = in.Username
		}
		if in.Phone != "" {
			u.Phone = in.Phone
		}

		switch {
		case containsID(s.admins, u.ID):
			u.Role, u.SCID = fsm.RoleAdmin, nil
		case containsID(s.couriers, u.ID):
			u.Role, u.SCID = fsm.RoleDelivery, nil
		default:
			if sc, ok := centerByPhone(centers, u.Phone); ok {
				id := sc.ID
				u.Role, u.SCID = fsm.RoleSC, &id
			} else if u.Role == "" {
				u.Role = fsm.RoleClient
			}
		}
		tx.Put(u.ID, u)
		out = u
		return nil
	})
	if err != nil {
		return store.User{}, fmt.Errorf("%w: %v", lifecycle.ErrPersistence, err)
	}
	s.infof("user %d registered as %s", out.ID, out.Role)
	return out, nil
}

// SetRole changes the role of a registered user. scID is required for SC staff.
func (s *Service) SetRole(ctx context.Context, userID int64, role fsm.Role, scID int64) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	switch role {
	case fsm.RoleClient, fsm.RoleAdmin, fsm.RoleDelivery:
		scID = 0
	case fsm.RoleSC:
		if _, err := s.stores.ServiceCenters.Get(scID); err != nil {
			return store.User{}, fmt.Errorf("%w: service center %d", lifecycle.ErrNotFound, scID)
		}
	default:
		return store.User{}, fmt.Errorf("%w: unknown role %q", lifecycle.ErrInvalidTransition, role)
	}

	var out store.User
	err := s.stores.Users.Update(func(tx *store.Tx[store.User]) error {
		u, err := tx.Get(userID)
		if err != nil {
			return fmt.Errorf("%w: user %d", lifecycle.ErrNotFound, userID)
		}
		u.Role, u.SCID = role, nil
		if scID != 0 {
			id := scID
			u.SCID = &id
		}
		tx.Put(u.ID, u)
		out = u
		return nil
	})
	if errors.Is(err, store.ErrWrite) {
		return store.User{}, fmt.Errorf("%w: %v", lifecycle.ErrPersistence, err)
	}
	return out, err
}

// ActorFor resolves who is acting on behalf of a chat user.
func (s *Service) ActorFor(userID int64) lifecycle.Actor {
	if containsID(s.admins, userID) {
		return lifecycle.Actor{ID: userID, Role: fsm.RoleAdmin}
	}
	u, err := s.stores.Users.Get(userID)
	if err != nil {
		if containsID(s.couriers, userID) {
			return lifecycle.Actor{ID: userID, Role: fsm.RoleDelivery}
		}
		return lifecycle.Actor{ID: userID, Role: fsm.RoleClient}
	}
	actor := lifecycle.Actor{ID: userID, Role: u.Role}
	if actor.Role == "" {
		actor.Role = fsm.RoleClient
	}
	if u.SCID != nil {
		actor.SCID = *u.SCID
	}
	return actor
}

// User returns a registered user.
func (s *Service) User(id int64) (store.User, bool) {
	u, err := s.stores.Users.Get(id)
	return u, err == nil
}

func centerByPhone(centers []store.ServiceCenter, phone string) (store.ServiceCenter, bool) {
	want := digits(phone)
	if want == "" {
		return store.ServiceCenter{}, false
	}
	for _, sc := range centers {
		if digits(sc.Phone) == want {
			return sc, true
		}
	}
	return store.ServiceCenter{}, false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
