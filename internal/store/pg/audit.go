package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
)

const auditColumns = `id, organization_id, role_id, role_user_id, actor_user_id, user_first_name, user_last_name, user_identifier,
	action_type, module, entity_type, entity_id, action_details, request_id, created_at`

func (s *Store) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, nullIfEmpty(e.OrganizationID), nullIfEmpty(e.RoleID), nullIfEmpty(e.RoleUserID), nullIfEmpty(e.ActorUserID),
		e.FirstName, e.LastName, e.Identifier, e.Action, string(e.Module),
		nullIfEmpty(e.EntityType), nullIfEmpty(e.EntityID), details, nullIfEmpty(e.RequestID), e.CreatedAt)
	return err
}

// ListAuditEntries returns entries of organizationID, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, organizationID string, f audit.Filter) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where := []string{"organization_id = $1"}
	args := []any{organizationID}
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.Module != "" {
		add("module", string(f.Module))
	}
	if f.Action != "" {
		add("action_type", f.Action)
	}
	if f.RoleUserID != "" {
		add("role_user_id", f.RoleUserID)
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`select %s from audit_log where %s order by created_at desc, id desc limit $%d offset $%d`,
		auditColumns, strings.Join(where, " and "), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e                                audit.Entry
			org, roleID, roleUserID, actorID sql.NullString
			entityType, entityID, requestID  sql.NullString
			module                           string
			details                          []byte
		)
		if err := rows.Scan(&e.ID, &org, &roleID, &roleUserID, &actorID, &e.FirstName, &e.LastName, &e.Identifier,
			&e.Action, &module, &entityType, &entityID, &details, &requestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrganizationID = org.String
		e.RoleID = roleID.String
		e.RoleUserID = roleUserID.String
		e.ActorUserID = actorID.String
		e.Module = auth.Module(module)
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.RequestID = requestID.String
		e.Details = map[string]any{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
