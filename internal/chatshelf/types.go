// Package chatshelf implements the association reconciliation core: stable
// conversation identifiers derived from heterogeneous signals, and a
// persistent, namespace-scoped mapping from conversations to user-defined
// projects.
package chatshelf

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotLoaded    = errors.New("store not loaded")
	ErrClosed       = errors.New("closed")
)

// ChatID is a canonical conversation identifier: the "c_" prefix followed by
// the host's opaque conversation token.
type ChatID string

// Project is a user-defined folder for conversations. IDs are generated at
// creation and never reused.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Order       int    `json:"order"`
	CreatedAt   int64  `json:"createdAt"`
	ContextID   string `json:"contextId,omitempty"`
	ContextName string `json:"contextName,omitempty"`
	Expanded    bool   `json:"isExpanded,omitempty"`
}

// Association maps one conversation to a project, with the last title the
// engine captured and the time the conversation was first filed.
type Association struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	AddedAt   int64  `json:"addedAt"`
}

// FiledChat is a conversation listed under a project.
type FiledChat struct {
	ID      ChatID `json:"id"`
	Title   string `json:"title"`
	AddedAt int64  `json:"addedAt"`
}

// NewProjectID mints a fresh project identifier.
func NewProjectID() string {
	return "p_" + uuid.NewString()
}

// Logger is the minimal logging seam the store needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
