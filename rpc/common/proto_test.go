package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkv/guildkv/lib/store"
)

func TestErrorRoundTripPreservesKind(t *testing.T) {
	orig := store.NewError(store.KindOwnerUnavailable, "node-b is down")

	resp := NewErrorResponse(store.KindOf(orig), orig.Error())
	require.Error(t, resp.Error())
	assert.Equal(t, store.KindOwnerUnavailable, store.KindOf(resp.Error()))
	assert.Contains(t, resp.Error().Error(), "node-b is down")
}

func TestErrorDefaultsToInternalKind(t *testing.T) {
	// A response whose error kind got lost in transit must still surface
	// as an error.
	msg := &Message{MsgType: MsgTError, Err: "something broke"}
	require.Error(t, msg.Error())
	assert.Equal(t, store.KindInternal, store.KindOf(msg.Error()))
}

func TestSuccessResponseCarriesNoError(t *testing.T) {
	rec := store.Record{GuildID: "guild-1", Payload: []byte("x"), Version: 3, Owner: "node-a"}

	resp := NewGetResponse(rec, true, false, nil)
	assert.NoError(t, resp.Error())
	assert.True(t, resp.Ok)
	assert.Equal(t, uint64(3), resp.Version)
	assert.Equal(t, "node-a", resp.Sender)
}

func TestMessageTypeStrings(t *testing.T) {
	for msgType, want := range map[MessageType]string{
		MsgTGet:         "get",
		MsgTPut:         "put",
		MsgTDelete:      "delete",
		MsgTPing:        "ping",
		MsgTJoin:        "join",
		MsgTHeartbeat:   "heartbeat",
		MsgTViewRequest: "viewRequest",
		MsgTInvalidate:  "invalidate",
		MsgTSuccess:     "success",
		MsgTError:       "error",
	} {
		assert.Equal(t, want, msgType.String())
	}
}
