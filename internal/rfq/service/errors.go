package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUpdatePending 同一实体存在未确认的乐观更新
	ErrUpdatePending = errors.New("an optimistic update for this entity is still pending")
)

// ConstraintError 数据库约束冲突，携带面向用户的提示语
// Kind 取值：check / foreign_key / unique
type ConstraintError struct {
	Kind    string
	Message string
	cause   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint violation: %s", e.Kind, e.Message)
}

func (e *ConstraintError) Unwrap() error {
	return e.cause
}

// classifyDBError 将Postgres约束错误翻译为用户可读的 ConstraintError
// 非约束错误原样返回
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23514": // check_violation
		return &ConstraintError{
			Kind:    "check",
			Message: constraintMessage(pgErr.ConstraintName, "The system rejected this value"),
			cause:   err,
		}
	case "23503": // foreign_key_violation
		return &ConstraintError{
			Kind:    "foreign_key",
			Message: constraintMessage(pgErr.ConstraintName, "Referenced record does not exist"),
			cause:   err,
		}
	case "23505": // unique_violation
		return &ConstraintError{
			Kind:    "unique",
			Message: constraintMessage(pgErr.ConstraintName, "A record with this value already exists"),
			cause:   err,
		}
	}
	return err
}

// constraintMessage 按约束名给出更具体的提示
func constraintMessage(constraint, fallback string) string {
	switch constraint {
	case "chk_projects_status":
		return "Invalid status value"
	case "chk_projects_priority_level":
		return "Invalid priority value"
	case "fk_projects_current_stage":
		return "Invalid stage ID"
	case "fk_projects_customer_organization":
		return "Invalid customer organization"
	default:
		if constraint != "" {
			return fmt.Sprintf("%s (%s)", fallback, constraint)
		}
		return fallback
	}
}
