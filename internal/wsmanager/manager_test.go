package wsmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCleanupPurgesEmptyGroups(t *testing.T) {
	m := NewSessionManager()
	defer m.Shutdown()

	s1 := m.NewSession("s1")
	s2 := m.NewSession("s2")
	m.AddToGroup(s1.ID, "general")
	m.AddToGroup(s2.ID, "general")

	assert.ElementsMatch(t, []string{"s1", "s2"}, m.GroupMembers("general"))

	m.Unregister(s1.ID)
	_, ok := m.Get(s1.ID)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"s2"}, m.GroupMembers("general"))

	select {
	case <-s1.Done():
	case <-time.After(time.Second):
		t.Fatal("session not marked done after unregister")
	}

	m.Unregister(s2.ID)
	assert.NotContains(t, m.Groups(), "general")
}

func TestSendToGroupDeliversOnlyToMembers(t *testing.T) {
	m := NewSessionManager()
	defer m.Shutdown()

	s1 := m.NewSession("s1")
	s2 := m.NewSession("s2")
	m.AddToGroup(s1.ID, "room")

	m.SendToGroup("room", []byte("hello"))

	select {
	case msg := <-s1.Outbound():
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("s1 did not receive group message")
	}

	select {
	case <-s2.Outbound():
		t.Fatal("s2 should not have received the group message")
	default:
	}
}

func TestBroadcastExcludesListedSessions(t *testing.T) {
	m := NewSessionManager()
	defer m.Shutdown()

	s1 := m.NewSession("s1")
	s2 := m.NewSession("s2")

	m.Broadcast([]byte("hi"), s1.ID)

	select {
	case <-s1.Outbound():
		t.Fatal("s1 was excluded and should not have received the broadcast")
	default:
	}

	select {
	case msg := <-s2.Outbound():
		assert.Equal(t, "hi", string(msg))
	case <-time.After(time.Second):
		t.Fatal("s2 did not receive the broadcast")
	}
}

func TestGroupAddNoOpForUnknownSession(t *testing.T) {
	m := NewSessionManager()
	defer m.Shutdown()

	m.AddToGroup("ghost", "room")
	assert.Empty(t, m.GroupMembers("room"))
	assert.NotContains(t, m.Groups(), "room")
}

func TestSessionSendReportsErrorAfterClose(t *testing.T) {
	m := NewSessionManager()
	defer m.Shutdown()

	s := m.NewSession("s1")
	m.Unregister(s.ID)

	require.Eventually(t, func() bool {
		select {
		case <-s.Done():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	err := s.Send([]byte("late"))
	assert.Error(t, err)
}
