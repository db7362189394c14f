package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/betbot/tradedesk/internal/domain"
)

func TestLoggedInMessage(t *testing.T) {
	_, ok := loggedInMessage(nil)
	assert.False(t, ok)

	_, ok = loggedInMessage(&domain.Session{Credential: "tok"})
	assert.False(t, ok)

	msg, ok := loggedInMessage(&domain.Session{Credential: "tok", User: &domain.User{Name: "Ada", Email: "ada@example.com"}})
	assert.True(t, ok)
	assert.Equal(t, "logged in as Ada <ada@example.com>", msg)
}
