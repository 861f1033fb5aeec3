package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrEmptyScope is returned when a unit of work is requested without a tenant.
var ErrEmptyScope = errors.New("database scope requires school id, user id and role")

// Scope is the tenant and identity bound to one unit of work. Row-level-security
// policies read these values through current_setting('app.*', true).
// DBRole, when set, is the database role the unit of work runs as; the tenant
// policies only apply to that role.
type Scope struct {
	SchoolID string
	UserID   string
	Role     string
	DBRole   string
}

const (
	setScopeQuery = `SELECT set_config('app.school_id', $1, true), set_config('app.user_id', $2, true), set_config('app.role', $3, true)`
	setRoleQuery  = `SELECT set_config('role', $1, true)`
)

// ScopedReadOnly runs fn in a read-only transaction after binding scope with
// transaction-local settings. The settings vanish at commit or rollback, so a
// pooled connection never carries one request's scope into the next.
func ScopedReadOnly(ctx context.Context, db *sqlx.DB, scope Scope, fn func(tx *sqlx.Tx) error) (err error) {
	if scope.SchoolID == "" || scope.UserID == "" || scope.Role == "" {
		return ErrEmptyScope
	}

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if scope.DBRole != "" {
		if _, err = tx.ExecContext(ctx, setRoleQuery, scope.DBRole); err != nil {
			return fmt.Errorf("switch scoped role: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx, setScopeQuery, scope.SchoolID, scope.UserID, scope.Role); err != nil {
		return fmt.Errorf("bind scope: %w", err)
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit scoped tx: %w", err)
	}
	return nil
}
