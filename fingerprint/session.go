// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"sync"

	"github.com/google/uuid"
)

// SessionID identifies a resumable TLS session by its session ticket or
// session ID bytes (§4.6). NewSessionID mints one for a connection that
// has not yet presented either.
type SessionID string

// NewSessionID mints a random SessionID, for a connection attempt that has
// no session ticket or session ID bytes yet to key off (e.g. the first
// connection to an origin, before any resumption material exists).
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// SessionState tracks the Template a session was established under, so a
// resumption attempt can be checked for consistency against its original
// fingerprint (§4.6: a resumed session must not suddenly present a
// different browser's shape).
type SessionState struct {
	TemplateID   string
	Established  bool
	ResumeCount  int
	FrozenGREASE []uint16
}

// SessionStateTracker holds a bounded set of SessionState records, keyed by
// SessionID, mirroring the host stack's own SessionStateCache but
// generalized to carry a TemplateID rather than uTLS-internal state.
type SessionStateTracker struct {
	mu         sync.Mutex
	MaxSessions int
	sessions    map[SessionID]*SessionState
	order       []SessionID
}

// NewSessionStateTracker returns an empty tracker bounded to maxSessions.
// A non-positive maxSessions means unbounded.
func NewSessionStateTracker(maxSessions int) *SessionStateTracker {
	return &SessionStateTracker{
		MaxSessions: maxSessions,
		sessions:    make(map[SessionID]*SessionState),
	}
}

// GetOrCreate returns the existing SessionState for id, or creates one
// bound to templateID if none exists yet. The second return value reports
// whether an existing state was found.
func (t *SessionStateTracker) GetOrCreate(id SessionID, templateID string) (*SessionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		return s, true
	}
	if t.MaxSessions > 0 && len(t.sessions) >= t.MaxSessions && len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.sessions, oldest)
	}
	s := &SessionState{TemplateID: templateID}
	t.sessions[id] = s
	t.order = append(t.order, id)
	return s, false
}

// ValidateResumptionConsistency reports an error if a resumption attempt's
// templateID differs from the Template the session was originally
// established under (§4.6).
func ValidateResumptionConsistency(s *SessionState, templateID string) error {
	if s == nil {
		return nil
	}
	if s.Established && s.TemplateID != templateID {
		return newError(ErrKindValidation, "resumed session template does not match originally established template").
			withTemplate(templateID)
	}
	return nil
}

// MarkEstablished freezes s against further template changes and records
// the GREASE values selected on first use, so later ApplyPreset-style calls
// reuse the same identity instead of re-rolling it (§4.6, grounded on the
// teacher's FreezeSessionOnFirstUse / applyFrozenGREASE behavior).
func (s *SessionState) MarkEstablished(grease []uint16) {
	s.Established = true
	s.FrozenGREASE = append([]uint16(nil), grease...)
}

// RecordResumption increments s's resume counter. Callers check
// ValidateResumptionConsistency first.
func (s *SessionState) RecordResumption() {
	s.ResumeCount++
}
