package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/lib/pq"
)

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ErrBadConn", driver.ErrBadConn, true},
		{"ErrConnDone wrapped", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net.OpError", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"connection exception class", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"cannot connect now", &pq.Error{Code: "57P03"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"syntax error", &pq.Error{Code: "42601"}, false},
		{"no rows", sql.ErrNoRows, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapStoreError_ConvertsUnavailable(t *testing.T) {
	err := wrapStoreError("list todos", driver.ErrBadConn)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeStoreUnavailable)
	}
	if !errors.Is(err, driver.ErrBadConn) {
		t.Error("expected cause to be preserved")
	}
}

func TestWrapStoreError_KeepsOtherErrors(t *testing.T) {
	cause := &pq.Error{Code: "23505"}
	err := wrapStoreError("create todo", cause)

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("unexpected APIError: %v", apiErr)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}
