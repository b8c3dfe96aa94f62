package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDVariants(t *testing.T) {
	ids := []ID{ProvisionalID{Kind: KindPendingUser, Seq: 3}, PersistedID(42)}
	var provisional, persisted int
	for _, id := range ids {
		switch id.(type) {
		case ProvisionalID:
			provisional++
		case PersistedID:
			persisted++
		}
	}
	require.Equal(t, 1, provisional)
	require.Equal(t, 1, persisted)
	require.Equal(t, "provisional:pendingUser:3", ids[0].String())
	require.Equal(t, "persisted:42", ids[1].String())
}

func TestRecordMessage(t *testing.T) {
	now := time.Now()
	m := Record{ID: 7, ConversationID: "c1", Role: RoleAssistant, Content: "hi", CreatedAt: now}.Message()
	require.Equal(t, PersistedID(7), m.ID)
	require.False(t, m.IsProvisional())
	require.True(t, m.Settled())
	require.Equal(t, now, m.CreatedAt)
}

func TestSettled(t *testing.T) {
	streaming := Message{Provisional: KindStreamingAssistant}
	require.False(t, streaming.Settled())
	streaming.Frozen = true
	require.True(t, streaming.Settled())
	require.True(t, Message{Provisional: KindPendingUser}.Settled())
}

func TestRoleValid(t *testing.T) {
	require.True(t, RoleSystem.Valid())
	require.False(t, Role("tool").Valid())
}
