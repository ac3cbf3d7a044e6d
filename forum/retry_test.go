package forum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// scriptedStore fails InTx with the queued errors, then succeeds.
type scriptedStore struct {
	Store
	errs  []error
	calls int
}

func (s *scriptedStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return fn(nil)
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func TestRunTxRetriesConflicts(t *testing.T) {
	store := &scriptedStore{errs: []error{ConflictError(errors.New("40001")), ConflictError(errors.New("busy"))}}
	ran := false
	err := runTx(context.Background(), store, fastRetry(3), zerolog.Nop(), "test", func(Tx) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, store.calls)
}

func TestRunTxGivesUpAfterAttempts(t *testing.T) {
	store := &scriptedStore{errs: []error{
		ConflictError(errors.New("1")),
		ConflictError(errors.New("2")),
		ConflictError(errors.New("3")),
		ConflictError(errors.New("4")),
	}}
	err := runTx(context.Background(), store, fastRetry(3), zerolog.Nop(), "test", func(Tx) error { return nil })
	assert.Equal(t, CodeTxConflict, ErrorCode(err))
	assert.Equal(t, 3, store.calls)
}

func TestRunTxDoesNotRetryOtherErrors(t *testing.T) {
	store := &scriptedStore{errs: []error{ErrNotModerator}}
	err := runTx(context.Background(), store, fastRetry(3), zerolog.Nop(), "test", func(Tx) error { return nil })
	assert.True(t, errors.Is(err, ErrNotModerator))
	assert.Equal(t, 1, store.calls)
}

func TestRunTxZeroAttemptsRunsOnce(t *testing.T) {
	store := &scriptedStore{errs: []error{ConflictError(errors.New("x"))}}
	err := runTx(context.Background(), store, RetryPolicy{}, zerolog.Nop(), "test", func(Tx) error { return nil })
	assert.Equal(t, CodeTxConflict, ErrorCode(err))
	assert.Equal(t, 1, store.calls)
}
