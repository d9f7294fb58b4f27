// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"bilimshare/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE codes the application reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err references a missing row.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ToAppError normalizes a store error into the application taxonomy:
// deadlines become TIMEOUT, transport faults UNAVAILABLE, duplicate rows
// CONFLICT, references to missing rows NOT_FOUND, and anything else a
// STORE_ERROR carrying the store's message.
func ToAppError(err error) *models.AppError {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return models.NewTimeoutError(err)
	case isTransportError(err):
		return models.NewUnavailableError(err)
	case IsUniqueViolation(err):
		return models.NewConflictError("Record already exists", err)
	case IsForeignKeyViolation(err):
		return &models.AppError{Code: models.CodeNotFound, Message: "Referenced record not found", Err: err}
	case IsNotFound(err):
		return &models.AppError{Code: models.CodeNotFound, Message: "Record not found"}
	default:
		return models.NewStoreError(err)
	}
}

func isTransportError(err error) bool {
	var netErr net.Error
	var connErr *pgconn.ConnectError
	return errors.As(err, &netErr) ||
		errors.As(err, &connErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled)
}
