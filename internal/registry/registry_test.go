package registry

import (
	"testing"

	"github.com/lacylights/lacylightsd/internal/universe"
)

type memPrefs struct {
	kv map[string]string
}

func newMemPrefs() *memPrefs { return &memPrefs{kv: make(map[string]string)} }

func (m *memPrefs) Load() error { return nil }
func (m *memPrefs) Save() error { return nil }
func (m *memPrefs) Get(key string) (string, bool) {
	v, ok := m.kv[key]
	return v, ok
}
func (m *memPrefs) Set(key, value string) { m.kv[key] = value }
func (m *memPrefs) GetMulti(keys []string) map[string]string {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := m.kv[k]; ok {
			out[k] = v
		}
	}
	return out
}
func (m *memPrefs) SetMulti(kv map[string]string) {
	for k, v := range kv {
		m.kv[k] = v
	}
}
func (m *memPrefs) Remove(key string) { delete(m.kv, key) }

func newTestRegistry() *PortRegistry {
	return New(newMemPrefs(), universe.NewStore(nil))
}

func TestRegisterDeviceAssignsDenseAliasesStartingAt1(t *testing.T) {
	r := newTestRegistry()

	d1 := &Device{UniqueID: "dev-1"}
	d2 := &Device{UniqueID: "dev-2"}

	if err := r.RegisterDevice(d1); err != nil {
		t.Fatalf("RegisterDevice(d1) error = %v", err)
	}
	if err := r.RegisterDevice(d2); err != nil {
		t.Fatalf("RegisterDevice(d2) error = %v", err)
	}

	if d1.Alias != 1 {
		t.Errorf("d1.Alias = %d, want 1", d1.Alias)
	}
	if d2.Alias != 2 {
		t.Errorf("d2.Alias = %d, want 2", d2.Alias)
	}
}

func TestRegisterDeviceTwiceWithoutUnregisterFails(t *testing.T) {
	r := newTestRegistry()
	d := &Device{UniqueID: "dev-1"}
	if err := r.RegisterDevice(d); err != nil {
		t.Fatalf("first RegisterDevice error = %v", err)
	}
	if err := r.RegisterDevice(&Device{UniqueID: "dev-1"}); err == nil {
		t.Fatal("expected DEVICE_ALREADY_REGISTERED on double registration")
	}
}

// P3: alias stability across unregister/re-register, and permanent
// non-reuse across distinct unique_ids.
func TestAliasStabilityAcrossReregistrationAndReuse(t *testing.T) {
	r := newTestRegistry()

	x := &Device{UniqueID: "X"}
	if err := r.RegisterDevice(x); err != nil {
		t.Fatal(err)
	}
	aliasX := x.Alias

	y := &Device{UniqueID: "Y"}
	if err := r.RegisterDevice(y); err != nil {
		t.Fatal(err)
	}

	if err := r.UnregisterDevice("X"); err != nil {
		t.Fatalf("UnregisterDevice(X) error = %v", err)
	}

	z := &Device{UniqueID: "Z"}
	if err := r.RegisterDevice(z); err != nil {
		t.Fatal(err)
	}
	if z.Alias == aliasX {
		t.Fatal("Z must not reuse X's alias")
	}

	xAgain := &Device{UniqueID: "X"}
	if err := r.RegisterDevice(xAgain); err != nil {
		t.Fatal(err)
	}
	if xAgain.Alias != aliasX {
		t.Fatalf("re-registered X alias = %d, want %d", xAgain.Alias, aliasX)
	}
}

func TestUnregisterAllRetainsAliasReservations(t *testing.T) {
	r := newTestRegistry()
	d := &Device{UniqueID: "dev-1"}
	if err := r.RegisterDevice(d); err != nil {
		t.Fatal(err)
	}
	aliasBefore := d.Alias

	r.UnregisterAll()

	if r.DeviceCount() != 0 {
		t.Fatalf("DeviceCount() = %d, want 0", r.DeviceCount())
	}

	again := &Device{UniqueID: "dev-1"}
	if err := r.RegisterDevice(again); err != nil {
		t.Fatal(err)
	}
	if again.Alias != aliasBefore {
		t.Fatalf("alias after UnregisterAll+reregister = %d, want %d", again.Alias, aliasBefore)
	}
}

func TestDeviceByUniqueIDMissingReturnsZeroAlias(t *testing.T) {
	r := newTestRegistry()
	_, alias, ok := r.DeviceByUniqueID("nope")
	if ok {
		t.Fatal("expected ok=false for unknown unique id")
	}
	if alias != MissingDeviceAlias {
		t.Fatalf("alias = %d, want %d", alias, MissingDeviceAlias)
	}
}

func TestPatchAttachesPortAndPersists(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-1", Kind: PortOutput, Capability: CapabilityFull}

	id := universe.ID{Net: 0, Num: 3}
	if err := r.Patch(port, id); err != nil {
		t.Fatalf("Patch error = %v", err)
	}

	if port.UniverseID == nil || *port.UniverseID != id {
		t.Fatalf("port.UniverseID = %v, want %v", port.UniverseID, id)
	}
	if v, ok := r.prefs.Get("port-1"); !ok || v != "0.3" {
		t.Fatalf("persisted patch = %q, ok=%v, want 0.3", v, ok)
	}

	u, ok := r.store.Get(id)
	if !ok || u.MemberCount() != 1 {
		t.Fatalf("universe member count = %d, want 1", u.MemberCount())
	}
}

func TestRepatchUnpatchesFromPriorUniverse(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-1", Kind: PortInput}

	id1 := universe.ID{Net: 0, Num: 1}
	id2 := universe.ID{Net: 0, Num: 2}

	if err := r.Patch(port, id1); err != nil {
		t.Fatal(err)
	}
	if err := r.Patch(port, id2); err != nil {
		t.Fatal(err)
	}

	u1, _ := r.store.Get(id1)
	if u1.MemberCount() != 0 {
		t.Fatalf("old universe member count = %d, want 0", u1.MemberCount())
	}
	u2, _ := r.store.Get(id2)
	if u2.MemberCount() != 1 {
		t.Fatalf("new universe member count = %d, want 1", u2.MemberCount())
	}
}

func TestSetPriorityRejectedWithoutCapability(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-1", Kind: PortOutput, Capability: CapabilityNone}
	if err := r.SetPriority(port, 150); err == nil {
		t.Fatal("expected error setting priority on a CapabilityNone port")
	}
}

func TestSetPriorityModeRequiresFullCapability(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-1", Kind: PortOutput, Capability: CapabilityStatic}
	if err := r.SetPriorityMode(port, universe.PriorityOverride); err == nil {
		t.Fatal("expected error setting priority mode on a STATIC-only port")
	}
}

// Priority restores before mode, so persisted INHERIT mode doesn't erase
// the stored override value.
func TestRestorePortSettingsAppliesPriorityBeforeMode(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-1", Kind: PortOutput, Capability: CapabilityFull, Priority: 100}

	if err := r.SetPriority(port, 180); err != nil {
		t.Fatal(err)
	}
	if err := r.SetPriorityMode(port, universe.PriorityInherit); err != nil {
		t.Fatal(err)
	}

	restored := &Port{UniqueID: "port-1", Kind: PortOutput, Capability: CapabilityFull}
	d := &Device{UniqueID: "dev-restore", Ports: []*Port{restored}}
	if err := r.RegisterDevice(d); err != nil {
		t.Fatal(err)
	}

	if restored.Priority != 180 {
		t.Fatalf("restored.Priority = %d, want 180", restored.Priority)
	}
	if restored.PriorityMode != universe.PriorityInherit {
		t.Fatalf("restored.PriorityMode = %v, want Inherit", restored.PriorityMode)
	}
}

func TestTimecodeFanOutStableOrder(t *testing.T) {
	r := newTestRegistry()
	a := &Port{UniqueID: "a", Kind: PortOutput, SupportsTimecode: true}
	b := &Port{UniqueID: "b", Kind: PortOutput, SupportsTimecode: true}
	c := &Port{UniqueID: "c", Kind: PortOutput, SupportsTimecode: true}

	d := &Device{UniqueID: "dev-tc", Ports: []*Port{a, b, c}}
	if err := r.RegisterDevice(d); err != nil {
		t.Fatal(err)
	}

	var order []string
	r.SendTimecode(func(p *Port) { order = append(order, p.UniqueID) })

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("fan-out order = %v, want [a b c]", order)
	}
}

func TestUnpatchRemovesFromTimecodeAndUniverse(t *testing.T) {
	r := newTestRegistry()
	port := &Port{UniqueID: "port-tc", Kind: PortOutput, SupportsTimecode: true}
	d := &Device{UniqueID: "dev-tc", Ports: []*Port{port}}
	if err := r.RegisterDevice(d); err != nil {
		t.Fatal(err)
	}

	id := universe.ID{Net: 0, Num: 1}
	if err := r.Patch(port, id); err != nil {
		t.Fatal(err)
	}
	r.Unpatch(port)

	if port.UniverseID != nil {
		t.Fatal("port.UniverseID should be nil after Unpatch")
	}
	if v, ok := r.prefs.Get("port-tc"); ok {
		t.Fatalf("expected patch entry removed, got %q", v)
	}

	if err := r.UnregisterDevice("dev-tc"); err != nil {
		t.Fatal(err)
	}
	var order []string
	r.SendTimecode(func(p *Port) { order = append(order, p.UniqueID) })
	if len(order) != 0 {
		t.Fatalf("timecode fan-out after unregister = %v, want empty", order)
	}
}
