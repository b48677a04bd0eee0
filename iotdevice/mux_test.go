package iotdevice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nytrix-io/iotcore/common"
)

func TestMessageSlot_SyncDispatch(t *testing.T) {
	t.Parallel()

	var s messageSlot
	require.NoError(t, s.setSync(func(msg *common.Message) common.Disposition {
		return common.DispositionAccepted
	}))
	require.True(t, s.subscribed())

	d := s.dispatch(&MessageInfo{}, common.NewFromString("x"))
	require.Equal(t, common.DispositionAccepted, d)
}

func TestMessageSlot_AsyncDispatchReturnsNoneLeavingDispositionForLater(t *testing.T) {
	t.Parallel()

	var s messageSlot
	var got *common.Message
	require.NoError(t, s.setAsync(func(info *MessageInfo, msg *common.Message) {
		got = msg
	}))

	msg := common.NewFromString("x")
	d := s.dispatch(&MessageInfo{}, msg)
	require.Equal(t, common.DispositionNone, d)
	require.Same(t, msg, got)
}

func TestMessageSlot_RejectsSyncWhileAsyncActive(t *testing.T) {
	t.Parallel()

	var s messageSlot
	require.NoError(t, s.setAsync(func(*MessageInfo, *common.Message) {}))
	err := s.setSync(func(*common.Message) common.Disposition { return common.DispositionAccepted })
	require.Error(t, err)
}

func TestMessageSlot_RejectsAsyncWhileSyncActive(t *testing.T) {
	t.Parallel()

	var s messageSlot
	require.NoError(t, s.setSync(func(*common.Message) common.Disposition { return common.DispositionAccepted }))
	err := s.setAsync(func(*MessageInfo, *common.Message) {})
	require.Error(t, err)
}

func TestMessageSlot_UnsetWithNothingRegisteredErrors(t *testing.T) {
	t.Parallel()

	var s messageSlot
	require.Error(t, s.setSync(nil))
	require.Error(t, s.setAsync(nil))
}

func TestMessageSlot_DispatchWithNothingRegisteredAbandons(t *testing.T) {
	t.Parallel()

	var s messageSlot
	d := s.dispatch(&MessageInfo{}, common.NewFromString("x"))
	require.Equal(t, common.DispositionAbandoned, d)
}

func TestTwinSlot_SetAndDispatch(t *testing.T) {
	t.Parallel()

	var s twinSlot
	var gotPayload []byte
	var gotPartial bool
	require.NoError(t, s.set(func(payload []byte, isPartial bool) {
		gotPayload = payload
		gotPartial = isPartial
	}))
	require.True(t, s.subscribed())

	s.dispatch([]byte(`{"a":1}`), true)
	require.Equal(t, []byte(`{"a":1}`), gotPayload)
	require.True(t, gotPartial)

	require.NoError(t, s.set(nil))
	require.False(t, s.subscribed())
}

func TestMethodSlot_SyncDispatchReturnsStatusAndResponse(t *testing.T) {
	t.Parallel()

	var s methodSlot
	require.NoError(t, s.setSync(func(name string, payload []byte) (int, []byte) {
		return 200, []byte(`{"ok":true}`)
	}))

	status, resp := s.dispatch("corr-1", "reboot", []byte(`{}`))
	require.Equal(t, 200, status)
	require.Equal(t, `{"ok":true}`, string(resp))
}

func TestMethodSlot_DispatchWithNothingRegisteredReturns501(t *testing.T) {
	t.Parallel()

	var s methodSlot
	status, resp := s.dispatch("corr-1", "reboot", []byte(`{}`))
	require.Equal(t, 501, status)
	require.NotEmpty(t, resp)
}

func TestMethodSlot_AsyncDispatchDefersCompletion(t *testing.T) {
	t.Parallel()

	var s methodSlot
	var gotMethodID string
	require.NoError(t, s.setAsync(func(methodID, name string, payload []byte) {
		gotMethodID = methodID
	}))

	status, resp := s.dispatch("corr-1", "reboot", []byte(`{}`))
	require.Equal(t, 0, status)
	require.Nil(t, resp)
	require.Equal(t, "corr-1", gotMethodID)
}

func TestMethodSlot_RejectsSyncWhileAsyncActive(t *testing.T) {
	t.Parallel()

	var s methodSlot
	require.NoError(t, s.setAsync(func(string, string, []byte) {}))
	err := s.setSync(func(string, []byte) (int, []byte) { return 200, nil })
	require.Error(t, err)
}
