package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/tenant"
)

// RoleUserInput creates a role user together with its provider credential.
type RoleUserInput struct {
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Identifier     string `json:"identifier"`
	Email          string `json:"email"`
	Password       string `json:"password"`
}

func (s *Service) ListRoleUsers(ctx context.Context, actor auth.Identity, organizationID string) ([]auth.RoleUser, error) {
	org, err := tenant.ScopeFor(actor, organizationID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRoleUsers(ctx, org)
}

// CreateRoleUser binds a new staff member to a role of the same organization.
func (s *Service) CreateRoleUser(ctx context.Context, actor auth.Identity, in RoleUserInput) (auth.RoleUser, error) {
	org, err := tenant.ScopeFor(actor, in.OrganizationID)
	if err != nil {
		return auth.RoleUser{}, err
	}
	ru := auth.RoleUser{
		OrganizationID: org,
		RoleID:         strings.TrimSpace(in.RoleID),
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Identifier:     auth.NormalizeIdentifier(in.Identifier),
		Email:          auth.NormalizeEmail(in.Email),
		Active:         true,
	}
	switch {
	case ru.FirstName == "" || ru.LastName == "":
		return auth.RoleUser{}, fmt.Errorf("%w: first and last name are required", auth.ErrInvalidInput)
	case ru.Identifier == "":
		return auth.RoleUser{}, fmt.Errorf("%w: identifier is required", auth.ErrInvalidInput)
	case ru.Email == "" || !strings.Contains(ru.Email, "@"):
		return auth.RoleUser{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	case in.Password == "":
		return auth.RoleUser{}, fmt.Errorf("%w: password is required", auth.ErrInvalidInput)
	}
	if err := s.checkRole(ctx, ru.RoleID, org); err != nil {
		return auth.RoleUser{}, err
	}
	if err := s.checkIdentifierFree(ctx, ru.Identifier, org, ""); err != nil {
		return auth.RoleUser{}, err
	}

	if err := s.checkEmailFree(ctx, ru.Email); err != nil {
		return auth.RoleUser{}, err
	}

	subject, err := s.creds.CreateAccount(ctx, ru.Email, in.Password)
	if err != nil {
		return auth.RoleUser{}, err
	}
	ru.ExternalID = subject.ID
	created, err := s.store.CreateRoleUser(ctx, ru)
	if err != nil {
		// roll back the provider credential
		if derr := s.creds.DeleteAccount(context.WithoutCancel(ctx), subject.ID); derr != nil {
			s.log.Error("provider account left without role user",
				zap.Error(derr),
				zap.String("subject", subject.ID),
				zap.String("organization_id", org),
			)
		}
		return auth.RoleUser{}, err
	}
	s.recordAdmin(ctx, actor, audit.ActionCreate, created, map[string]any{
		"role_id":    created.RoleID,
		"identifier": created.Identifier,
	})
	return created, nil
}

func (s *Service) UpdateRoleUser(ctx context.Context, actor auth.Identity, id string, upd RoleUserUpdate) (auth.RoleUser, error) {
	current, err := s.scopedRoleUser(ctx, actor, id)
	if err != nil {
		return auth.RoleUser{}, err
	}
	if upd.RoleID != nil {
		roleID := strings.TrimSpace(*upd.RoleID)
		if err := s.checkRole(ctx, roleID, current.OrganizationID); err != nil {
			return auth.RoleUser{}, err
		}
		upd.RoleID = &roleID
	}
	if upd.Identifier != nil {
		identifier := auth.NormalizeIdentifier(*upd.Identifier)
		if identifier == "" {
			return auth.RoleUser{}, fmt.Errorf("%w: identifier is required", auth.ErrInvalidInput)
		}
		if err := s.checkIdentifierFree(ctx, identifier, current.OrganizationID, current.ID); err != nil {
			return auth.RoleUser{}, err
		}
		upd.Identifier = &identifier
	}
	for _, f := range []*string{upd.FirstName, upd.LastName} {
		if f != nil {
			*f = strings.TrimSpace(*f)
			if *f == "" {
				return auth.RoleUser{}, fmt.Errorf("%w: name cannot be empty", auth.ErrInvalidInput)
			}
		}
	}
	updated, err := s.store.UpdateRoleUser(ctx, current.ID, upd)
	if err != nil {
		return auth.RoleUser{}, err
	}
	action := audit.ActionUpdate
	if upd.Active != nil && !*upd.Active && current.Active {
		action = audit.ActionDeactivate
	}
	s.recordAdmin(ctx, actor, action, updated, map[string]any{"role_id": updated.RoleID})
	return updated, nil
}

// DeactivateRoleUser soft-deletes a role user; open sessions fail Snapshot
// and Verify from then on.
func (s *Service) DeactivateRoleUser(ctx context.Context, actor auth.Identity, id string) error {
	inactive := false
	_, err := s.UpdateRoleUser(ctx, actor, id, RoleUserUpdate{Active: &inactive})
	return err
}

func (s *Service) scopedRoleUser(ctx context.Context, actor auth.Identity, id string) (auth.RoleUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.RoleUser{}, fmt.Errorf("%w: role user id is required", auth.ErrInvalidInput)
	}
	ru, err := s.store.RoleUserByID(ctx, id)
	if err != nil {
		return auth.RoleUser{}, err
	}
	if err := tenant.EnforceRecord(actor, ru); err != nil {
		return auth.RoleUser{}, err
	}
	return ru, nil
}

func (s *Service) checkRole(ctx context.Context, roleID, organizationID string) error {
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", auth.ErrInvalidInput)
	}
	role, err := s.roles.Snapshot(ctx, roleID)
	if err != nil {
		return err
	}
	if role.OrganizationID != organizationID {
		return fmt.Errorf("%w: role belongs to another organization", auth.ErrInvalidInput)
	}
	return nil
}

func (s *Service) checkIdentifierFree(ctx context.Context, identifier, organizationID, exceptID string) error {
	existing, err := s.store.RoleUsersByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	for _, ru := range existing {
		if ru.OrganizationID == organizationID && ru.ID != exceptID {
			return fmt.Errorf("%w: identifier already registered in this organization", auth.ErrConflict)
		}
	}
	return nil
}

func (s *Service) checkEmailFree(ctx context.Context, email string) error {
	_, err := s.store.RoleUserByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email already belongs to a role user", auth.ErrConflict)
	case errors.Is(err, auth.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) recordAdmin(ctx context.Context, actor auth.Identity, action string, ru auth.RoleUser, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.For(actor, action, auth.ModuleUsers).On("role_user", ru.ID).With(details))
}
