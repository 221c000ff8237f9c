package universe

import (
	"testing"
	"time"

	"github.com/lacylights/lacylightsd/internal/dmxbuf"
)

func newTestUniverse() *Universe {
	u := New(ID{Net: 0, Num: 0})
	fixed := time.Now()
	u.now = func() time.Time { return fixed }
	return u
}

// P1: output == merge(active sources) after any sequence of events.
func TestHTPMergeScenario(t *testing.T) {
	u := newTestUniverse()

	u.ClientDataChanged("client-1", dmxbuf.FromBytes([]byte{1, 2, 3, 4, 5}))
	u.ClientDataChanged("client-2", dmxbuf.FromBytes([]byte{10, 11, 12}))

	got := u.Output().PadTo(10)
	want := []byte{10, 11, 12, 4, 5, 0, 0, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
	if !u.IsMerging() {
		t.Error("expected is_merging true with two equal-priority sources")
	}
}

// LTP scenario: second publisher wins outright.
func TestLTPMergeScenario(t *testing.T) {
	u := newTestUniverse()
	u.SetMergeMode(LTP)

	u.ClientDataChanged("client-1", dmxbuf.FromBytes([]byte{1, 2, 3, 4, 5}))
	u.now = func() time.Time { return time.Now().Add(time.Millisecond) }
	u.ClientDataChanged("client-2", dmxbuf.FromBytes([]byte{10, 11, 12}))

	got := u.Output().PadTo(5)
	want := []byte{10, 11, 12, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPriorityArbitrationSingleWinner(t *testing.T) {
	u := newTestUniverse()
	u.ClientDataChanged("low", dmxbuf.FromBytes([]byte{1, 1, 1}))
	u.ClientDataChanged("high", dmxbuf.FromBytes([]byte{9, 9, 9}))

	u.SetSourcePriority(Origin{Kind: OriginClient, Value: "high"}, 200, PriorityOverride)

	if u.IsMerging() {
		t.Error("single highest-priority source should not be merging")
	}
	got := u.Output().Get()
	for _, v := range got {
		if v != 9 {
			t.Fatalf("output = %v, want all 9s", got)
		}
	}
}

func TestSourceCapacityRejectsExcessOrigins(t *testing.T) {
	u := New(ID{Net: 0, Num: 1}, WithMaxMergeSources(2))
	if ok := u.ClientDataChanged("a", dmxbuf.FromBytes([]byte{1})); !ok {
		t.Fatal("first contribution should be accepted")
	}
	if ok := u.ClientDataChanged("b", dmxbuf.FromBytes([]byte{2})); !ok {
		t.Fatal("second contribution should be accepted")
	}
	if ok := u.ClientDataChanged("c", dmxbuf.FromBytes([]byte{3})); ok {
		t.Fatal("third distinct origin should be rejected at capacity")
	}
	if u.SourceCount() != 2 {
		t.Fatalf("source count = %d, want 2 (rejection must not evict)", u.SourceCount())
	}
	// Re-publishing an existing origin is always accepted even at capacity.
	if ok := u.ClientDataChanged("a", dmxbuf.FromBytes([]byte{5})); !ok {
		t.Fatal("re-publish of existing origin should be accepted at capacity")
	}
}

func TestSourceExpiryTick(t *testing.T) {
	u := New(ID{Net: 0, Num: 2}, WithMergeTimeout(10*time.Second))
	now := time.Now()
	u.now = func() time.Time { return now }

	u.ClientDataChanged("a", dmxbuf.FromBytes([]byte{1, 2, 3}))
	u.ClientDataChanged("b", dmxbuf.FromBytes([]byte{9, 9, 9}))

	now = now.Add(11 * time.Second)
	u.SourceExpiryTick()

	if u.SourceCount() != 0 {
		t.Fatalf("source count after expiry = %d, want 0", u.SourceCount())
	}
	if u.Output().Len() != 0 {
		t.Fatalf("output len after all sources expired = %d, want 0", u.Output().Len())
	}
}

func TestMemberCountAndGCEligibility(t *testing.T) {
	u := newTestUniverse()
	if u.MemberCount() != 0 {
		t.Fatalf("MemberCount() = %d, want 0", u.MemberCount())
	}
	u.AddClient("c1")
	if u.MemberCount() != 1 {
		t.Fatalf("MemberCount() = %d, want 1", u.MemberCount())
	}
	u.RemoveClient("c1")
	if u.MemberCount() != 0 {
		t.Fatalf("MemberCount() = %d, want 0 after removal", u.MemberCount())
	}
}

func TestRemoveClientNonMemberIsNoop(t *testing.T) {
	u := newTestUniverse()
	u.RemoveClient("never-there") // must not panic
	if u.MemberCount() != 0 {
		t.Fatalf("MemberCount() = %d, want 0", u.MemberCount())
	}
}

type fakeOutputPort struct {
	writes [][]byte
}

func (p *fakeOutputPort) WriteDMX(data dmxbuf.Buffer) {
	p.writes = append(p.writes, data.Get())
}

func TestDispatchToOutputPortsOnChange(t *testing.T) {
	u := newTestUniverse()
	port := &fakeOutputPort{}
	u.AddOutputPort("out-1", port)

	u.ClientDataChanged("c1", dmxbuf.FromBytes([]byte{1, 2, 3}))
	if len(port.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(port.writes))
	}

	// Re-publishing the identical buffer must not trigger a redundant dispatch.
	u.ClientDataChanged("c1", dmxbuf.FromBytes([]byte{1, 2, 3}))
	if len(port.writes) != 1 {
		t.Fatalf("writes after unchanged republish = %d, want 1", len(port.writes))
	}

	u.ClientDataChanged("c1", dmxbuf.FromBytes([]byte{1, 2, 4}))
	if len(port.writes) != 2 {
		t.Fatalf("writes after changed republish = %d, want 2", len(port.writes))
	}
}

type fakeNotifier struct {
	calls []string
}

func (n *fakeNotifier) NotifyDMX(universeKey string, data dmxbuf.Buffer) {
	n.calls = append(n.calls, universeKey)
}

func TestDispatchNotifiesClients(t *testing.T) {
	n := &fakeNotifier{}
	u := New(ID{Net: 1, Num: 5}, WithNotifier(n))
	u.AddClient("sub-1")

	u.ClientDataChanged("sub-1", dmxbuf.FromBytes([]byte{7}))
	if len(n.calls) != 1 || n.calls[0] != "1.5" {
		t.Fatalf("calls = %v, want [\"1.5\"]", n.calls)
	}
}
