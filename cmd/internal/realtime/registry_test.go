package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConn(id string, userID int64) *Conn {
	return NewConn(id, identity.Identity{ID: userID, Name: "u", Role: "student"}, 8)
}

func TestRegistryPresenceRefcount(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	// First connection of an identity flips presence on.
	c1 := testConn("c1", 7)
	if first := reg.Add(c1); !first {
		t.Fatal("first connection should report first=true")
	}

	// Second device of the same identity does not.
	c2 := testConn("c2", 7)
	if first := reg.Add(c2); first {
		t.Fatal("second connection should report first=false")
	}
	if !reg.Online(7) {
		t.Fatal("identity with two connections should be online")
	}

	// Dropping one device keeps the identity online.
	if _, last := reg.Remove("c1"); last {
		t.Fatal("removing one of two connections should report last=false")
	}
	if !reg.Online(7) {
		t.Fatal("identity should stay online after losing one device")
	}

	// Dropping the final device flips presence off.
	if _, last := reg.Remove("c2"); !last {
		t.Fatal("removing the final connection should report last=true")
	}
	if reg.Online(7) {
		t.Fatal("identity should be offline after last disconnect")
	}
	if reg.Len() != 0 {
		t.Fatalf("registry should be empty, has %d", reg.Len())
	}
}

func TestRegistryRemoveClearsRooms(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := testConn("c1", 7)
	reg.Add(c)

	private := PrivateRoom(7)
	conv := ConversationRoom("conv_7_42")
	if !reg.Join("c1", private) || !reg.Join("c1", conv) {
		t.Fatal("joins for a live connection should succeed")
	}
	if len(reg.Members(conv)) != 1 {
		t.Fatal("conversation room should have one member")
	}

	reg.Remove("c1")

	if got := reg.Members(private); got != nil {
		t.Fatalf("private room after remove = %v, want empty", got)
	}
	if got := reg.Members(conv); got != nil {
		t.Fatalf("conversation room after remove = %v, want empty", got)
	}
}

func TestRegistryJoinUnknownConn(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	// A join racing a disconnect must not resurrect membership.
	if reg.Join("ghost", PrivateRoom(7)) {
		t.Fatal("join for unknown connection should be refused")
	}
	if reg.Join("ghost", Room{}) {
		t.Fatal("join for invalid room should be refused")
	}
	if got := reg.Members(PrivateRoom(7)); got != nil {
		t.Fatalf("room gained members from refused join: %v", got)
	}
}

func TestRegistryRemoveUnknown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	if c, last := reg.Remove("never-added"); c != nil || last {
		t.Fatalf("Remove(unknown) = (%v, %v), want (nil, false)", c, last)
	}
}

// Churns connections through add/join/leave/remove on many goroutines while
// the router concurrently resolves membership and delivers. Correctness here
// is "no torn state once the churn settles"; the race detector covers the
// interleavings themselves.
func TestRegistryConcurrentChurnWithDelivery(t *testing.T) {
	t.Parallel()

	const (
		users      = 8
		perUser    = 4
		iterations = 50
	)

	log := testLogger()
	reg := NewRegistry(log)
	rt := NewRouter(log, reg, nil)
	conv := ConversationRoom("conv_1_2")

	var writers sync.WaitGroup

	for u := int64(1); u <= users; u++ {
		for d := 0; d < perUser; d++ {
			writers.Add(1)
			go func(userID int64, device int) {
				defer writers.Done()

				connID := fmt.Sprintf("c-%d-%d", userID, device)
				for i := 0; i < iterations; i++ {
					c := NewConn(connID, identity.Identity{ID: userID, Name: "u", Role: "student"}, 1)
					reg.Add(c)
					reg.Join(connID, PrivateRoom(userID))
					reg.Join(connID, conv)
					reg.Leave(connID, conv)
					if removed, _ := reg.Remove(connID); removed != nil {
						removed.Close()
					}
				}
			}(u, d)
		}
	}

	// Readers race the churn through every registry read path the router uses.
	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rt.Send(conv, v1.TypeUserTyping, v1.UserTypingPayload{UserID: 1, UserName: "u"})
				rt.SendToUser(3, v1.TypeNotificationNew, struct{}{})
				rt.Broadcast(v1.TypeUserStatusChange, v1.UserStatusChangePayload{UserID: 2, Status: v1.StatusOnline})
				for u := int64(1); u <= users; u++ {
					reg.Online(u)
				}
			}
		}()
	}

	writers.Wait()
	close(done)
	readers.Wait()

	if got := reg.Len(); got != 0 {
		t.Fatalf("registry not empty after churn: %d connections", got)
	}
	if got := reg.Members(conv); got != nil {
		t.Fatalf("conversation room not empty after churn: %d members", len(got))
	}
	for u := int64(1); u <= users; u++ {
		if reg.Online(u) {
			t.Fatalf("user %d still online after churn", u)
		}
	}
}

func TestRegistryLeave(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	reg.Add(testConn("c1", 7))
	reg.Add(testConn("c2", 42))

	conv := ConversationRoom("conv_7_42")
	reg.Join("c1", conv)
	reg.Join("c2", conv)

	reg.Leave("c1", conv)
	members := reg.Members(conv)
	if len(members) != 1 || members[0].ID != "c2" {
		t.Fatalf("after leave members = %v, want only c2", members)
	}

	// Leaving a room never joined is a no-op.
	reg.Leave("c2", ConversationRoom("conv_1_2"))
	if len(reg.Members(conv)) != 1 {
		t.Fatal("unrelated leave disturbed membership")
	}
}
