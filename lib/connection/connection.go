// Package connection describes a single connection acquisition request.
package connection

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credentials identify the database user a connection is requested for.
// Credentials are comparable with ==.
type Credentials struct {
	Username string
	Password string
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username=%s}", c.Username)
}

// RequestContext is the immutable value threaded through the strategy chain
// for one acquisition call.
type RequestContext struct {
	id          uuid.UUID
	credentials *Credentials
	createdAt   time.Time
}

// NewRequestContext creates a request context. creds may be nil; the value
// is copied so later changes by the caller have no effect.
func NewRequestContext(creds *Credentials) *RequestContext {
	rc := &RequestContext{
		id:        uuid.New(),
		createdAt: time.Now(),
	}
	if creds != nil {
		c := *creds
		rc.credentials = &c
	}
	return rc
}

// ID returns the request identifier, used to correlate log entries. A nil
// request has the zero ID.
func (rc *RequestContext) ID() uuid.UUID {
	if rc == nil {
		return uuid.Nil
	}
	return rc.id
}

// Credentials returns the requested credentials and whether any were given.
func (rc *RequestContext) Credentials() (Credentials, bool) {
	if rc == nil || rc.credentials == nil {
		return Credentials{}, false
	}
	return *rc.credentials, true
}

// CreatedAt returns when the request was created.
func (rc *RequestContext) CreatedAt() time.Time {
	return rc.createdAt
}

// Age returns the time elapsed since the request was created.
func (rc *RequestContext) Age() time.Duration {
	return time.Since(rc.createdAt)
}

func (rc *RequestContext) String() string {
	if rc.credentials == nil {
		return fmt.Sprintf("RequestContext{id=%s}", rc.id)
	}
	return fmt.Sprintf("RequestContext{id=%s, %s}", rc.id, rc.credentials)
}
