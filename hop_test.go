package sshchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpointPrecedence(t *testing.T) {
	hop := Hop{Name: "a", Host: "h", Username: "a"}
	def := Defaults{Username: "b", Port: 10}

	ep := resolveEndpoint(hop, def)
	assert.Equal(t, "a", ep.Username, "hop field wins over default")
	assert.Equal(t, 10, ep.Port, "default fills missing hop field")
}

func TestResolveEndpointFallbacks(t *testing.T) {
	ep := resolveEndpoint(Hop{Name: "a", Host: "h"}, Defaults{})
	assert.Equal(t, 22, ep.Port)
	assert.Equal(t, "", ep.Username)
	assert.Equal(t, 60*time.Second, ep.ReadyTimeout)
	assert.Nil(t, ep.PrivateKey)
}

func TestResolveEndpointDoesNotMutateInputs(t *testing.T) {
	hop := Hop{Name: "a", Host: "h"}
	def := Defaults{Port: 2222, Username: "root"}

	_ = resolveEndpoint(hop, def)
	assert.Equal(t, Hop{Name: "a", Host: "h"}, hop)
	assert.Equal(t, Defaults{Port: 2222, Username: "root"}, def)
}

func TestParseHop(t *testing.T) {
	h, err := ParseHop("jump=bob@bastion.example.com:2222")
	require.NoError(t, err)
	assert.Equal(t, Hop{Name: "jump", Username: "bob", Host: "bastion.example.com", Port: 2222}, h)

	h, err = ParseHop("alice@inside.example.com")
	require.NoError(t, err)
	assert.Equal(t, "inside.example.com", h.Name, "name defaults to host")
	assert.Equal(t, 0, h.Port, "port left unset for defaults to fill")

	_, err = ParseHop("not-a-hop-spec")
	require.ErrorIs(t, err, ErrInvalidFormat)
}
