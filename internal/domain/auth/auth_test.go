package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	_, ok = FromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok, "empty user id is not an identity")

	id, ok := FromContext(WithIdentity(context.Background(), Identity{UserID: "u1"}))
	assert.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
