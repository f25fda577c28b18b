// Package chat creates group chats for formed action items.
package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// namespace seeds deterministic chat identifiers.
var namespace = uuid.MustParse("6f1c2a4e-8d3b-5e7f-9a10-2b3c4d5e6f70") //nolint:gochecknoglobals // fixed namespace

// Creator creates a group chat for an action item's confirmed members.
// Implementations must be idempotent per action item ID.
type Creator interface {
	CreateChat(ctx context.Context, actionItemID string, members []string) (string, error)
}

// ChatID returns the deterministic chat identifier for an action item.
func ChatID(actionItemID string) string {
	return uuid.NewSHA1(namespace, []byte(actionItemID)).String()
}

// LocalCreator mints chat IDs in process. Repeated calls for the same action
// item return the same ID.
type LocalCreator struct {
	mu    sync.Mutex
	chats map[string][]string
	calls int
}

// NewLocalCreator returns an empty LocalCreator.
func NewLocalCreator() *LocalCreator {
	return &LocalCreator{chats: make(map[string][]string)}
}

// CreateChat records the chat and returns its ID.
func (c *LocalCreator) CreateChat(ctx context.Context, actionItemID string, members []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", ErrNoMembers
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if _, ok := c.chats[actionItemID]; !ok {
		c.chats[actionItemID] = append([]string(nil), members...)
	}
	return ChatID(actionItemID), nil
}

// Members returns the members the chat for actionItemID was created with.
func (c *LocalCreator) Members(actionItemID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.chats[actionItemID]
	return append([]string(nil), m...), ok
}

// Calls returns how many times CreateChat was invoked.
func (c *LocalCreator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Created returns the number of distinct chats.
func (c *LocalCreator) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats)
}
