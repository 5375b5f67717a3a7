package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.PasswordHash == "" || user.Role == "" {
		return store.ErrValidation
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.PasswordHash, user.Role, user.Active, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users WHERE username = $1
	`, username).Scan(&user.Username, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, createdAt)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return logs, nil
}
