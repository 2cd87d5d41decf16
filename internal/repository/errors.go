package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the row the caller addressed does not exist remotely.
	ErrNotFound = errors.New("not_found")
	// ErrDuplicate is returned when the (phone, class_id) unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate booking")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
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
	// sqlite drivers only expose the message
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
