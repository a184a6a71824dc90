package eventbus

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/subgraph/citadel/internal/citadelcfg"
)

func ptr(b *byte) unsafe.Pointer { return unsafe.Pointer(b) }

func testRoots(t *testing.T) citadelcfg.Roots {
	t.Helper()
	dir := t.TempDir()
	return citadelcfg.Roots{Storage: dir + "/storage", Run: dir + "/run", Realms: dir + "/realms"}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		RealmStarted:   "RealmStarted",
		RealmStopped:   "RealmStopped",
		RealmNew:       "RealmNew",
		RealmRemoved:   "RealmRemoved",
		CurrentChanged: "CurrentChanged",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestEventString(t *testing.T) {
	if got, want := (Event{Type: CurrentChanged}).String(), "CurrentChanged"; got != want {
		t.Errorf("Event.String() = %q, want %q", got, want)
	}
	if got, want := (Event{Type: RealmNew, RealmName: "work"}).String(), "RealmNew(work)"; got != want {
		t.Errorf("Event.String() = %q, want %q", got, want)
	}
}

func TestListenerEmitFansOutToAllHandlers(t *testing.T) {
	l := New(testRoots(t))
	var got []Event
	l.AddHandler(func(ev Event) { got = append(got, ev) })
	l.AddHandler(func(ev Event) { got = append(got, ev) })

	l.emit(Event{Type: RealmStarted, RealmName: "work"})

	if len(got) != 2 {
		t.Fatalf("expected 2 handler invocations, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Type != RealmStarted || ev.RealmName != "work" {
			t.Errorf("unexpected event delivered: %+v", ev)
		}
	}
}

func TestParseInotifyEventsSingleWithName(t *testing.T) {
	name := "work"
	nameField := make([]byte, 16) // rounded up, NUL padded
	copy(nameField, name)

	buf := make([]byte, unix.SizeofInotifyEvent+len(nameField))
	raw := (*unix.InotifyEvent)(ptr(&buf[0]))
	raw.Wd = 7
	raw.Mask = unix.IN_MOVED_TO
	raw.Cookie = 0
	raw.Len = uint32(len(nameField))
	copy(buf[unix.SizeofInotifyEvent:], nameField)

	events := parseInotifyEvents(buf)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.wd != 7 || ev.mask != unix.IN_MOVED_TO || ev.name != name {
		t.Fatalf("unexpected parsed event: %+v", ev)
	}
}

func TestParseInotifyEventsNoNameField(t *testing.T) {
	buf := make([]byte, unix.SizeofInotifyEvent)
	raw := (*unix.InotifyEvent)(ptr(&buf[0]))
	raw.Wd = 3
	raw.Mask = unix.IN_CREATE

	events := parseInotifyEvents(buf)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].wd != 3 || events[0].name != "" {
		t.Fatalf("unexpected parsed event: %+v", events[0])
	}
}

func TestParseInotifyEventsMultiple(t *testing.T) {
	var buf []byte
	for i, wd := range []int32{1, 2} {
		b := make([]byte, unix.SizeofInotifyEvent)
		raw := (*unix.InotifyEvent)(ptr(&b[0]))
		raw.Wd = wd
		raw.Mask = unix.IN_MOVED_FROM
		raw.Len = 0
		_ = i
		buf = append(buf, b...)
	}
	events := parseInotifyEvents(buf)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].wd != 1 || events[1].wd != 2 {
		t.Fatalf("unexpected order: %+v", events)
	}
}
