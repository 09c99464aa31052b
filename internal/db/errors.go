package db

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/septivank/water-billing/internal/apperr"
)

// PostgreSQL error codes the application reacts to
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// Conflict messages keyed by constraint name
var conflictMessages = map[string]string{
	"meter_readings_house_month_key":     "a reading for this month is already recorded",
	"houses_house_number_key":            "house number already exists",
	"idx_water_unit_rates_single_active": "another rate was activated concurrently",
}

// ClassifyError maps driver errors onto the application error taxonomy.
// Errors that match no category are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			msg, ok := conflictMessages[pgErr.ConstraintName]
			if !ok {
				msg = "record already exists"
			}
			return apperr.Conflict(msg, err)
		case codeForeignKeyViolation:
			return &apperr.Error{Kind: apperr.KindNotFound, Message: "referenced house does not exist", Err: err}
		case codeCheckViolation:
			return &apperr.Error{Kind: apperr.KindValidation, Message: "value violates a table constraint", Err: err}
		}
		return err
	}

	if IsConnectivityError(err) {
		return apperr.Connectivity(err)
	}
	return err
}

// IsConnectivityError reports whether err means the database could not be reached
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.Timeout(err)
}
