// Package session serializes every read-modify-write of a conversation's state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/types"
)

// TurnFunc receives the current session (nil when idle) and returns the session
// to store. Returning nil clears it.
type TurnFunc func(cur *types.Session) (*types.Session, error)

type Store struct {
	backend types.SessionBackend
	locks   *keyedMutex
}

func NewStore(backend types.SessionBackend) *Store {
	return &Store{backend: backend, locks: newKeyedMutex()}
}

// Do runs fn under the conversation's lock and persists its result. Turns for the
// same conversation never interleave. If fn fails the session is cleared and the
// error returned, so a broken turn cannot leave the conversation stuck.
func (s *Store) Do(ctx context.Context, conversationID int64, fn TurnFunc) error {
	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.backend.Get(ctx, conversationID)
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		cur = nil
	case errors.Is(err, types.ErrInvalidSession):
		// unreadable state is treated as idle and dropped
		cur = nil
		if derr := s.backend.Delete(ctx, conversationID); derr != nil {
			return fmt.Errorf("drop invalid session: %w", derr)
		}
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	}

	next, ferr := fn(cur)
	if ferr != nil {
		if cur != nil {
			if derr := s.backend.Delete(ctx, conversationID); derr != nil {
				return errors.Join(ferr, fmt.Errorf("clear session: %w", derr))
			}
		}
		return ferr
	}

	if next == nil {
		if cur == nil {
			return nil
		}
		if err := s.backend.Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	}

	if next.ConversationID != conversationID {
		return fmt.Errorf("%w: turn for %d returned session of %d", types.ErrInvalidSession, conversationID, next.ConversationID)
	}
	if err := next.Validate(); err != nil {
		return s.drop(ctx, conversationID, err)
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	if err := s.backend.Put(ctx, next); err != nil {
		return s.drop(ctx, conversationID, fmt.Errorf("save session: %w", err))
	}
	return nil
}

// drop clears whatever the backend holds after a turn could not be stored, so the
// conversation restarts from idle instead of replaying the previous step.
func (s *Store) drop(ctx context.Context, conversationID int64, cause error) error {
	if derr := s.backend.Delete(ctx, conversationID); derr != nil {
		return errors.Join(cause, fmt.Errorf("clear session: %w", derr))
	}
	return cause
}

// ReleaseUpload clears the session if it is still in the uploading step.
// The pipeline calls it on every exit path.
func (s *Store) ReleaseUpload(ctx context.Context, conversationID int64) error {
	return s.Do(ctx, conversationID, func(cur *types.Session) (*types.Session, error) {
		if cur == nil || cur.Step() != types.StepUploading {
			return cur, nil
		}
		return nil, nil
	})
}
