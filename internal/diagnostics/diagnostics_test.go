package diagnostics

import (
	"errors"
	"testing"
)

func TestRing_RecordAndList_PreservesOrder(t *testing.T) {
	r := New(Opts{Enabled: true, BufferSize: 4})
	r.Record(Entry{Type: "a"})
	r.Record(Entry{Type: "b"})
	r.Record(Entry{Type: "c"})

	got := r.List()
	if len(got) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Type != want {
			t.Errorf("List[%d].Type = %q, want %q", i, got[i].Type, want)
		}
	}
}

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	r := New(Opts{Enabled: true, BufferSize: 2})
	r.Record(Entry{Type: "a"})
	r.Record(Entry{Type: "b"})
	r.Record(Entry{Type: "c"})

	got := r.List()
	if len(got) != 2 || got[0].Type != "b" || got[1].Type != "c" {
		t.Fatalf("List = %+v, want [b c]", got)
	}
}

func TestRing_DisabledIsNoOp(t *testing.T) {
	r := New(Opts{Enabled: false, BufferSize: 4})
	r.Record(Entry{Type: "a"})
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0 when disabled", r.Len())
	}
}

func TestRing_Clear(t *testing.T) {
	r := New(Opts{Enabled: true, BufferSize: 4})
	r.Record(Entry{Type: "a"})
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", r.Len())
	}
}

func TestRing_ReplayTagsDirectionAndCollectsErrors(t *testing.T) {
	r := New(Opts{Enabled: true, BufferSize: 4})
	r.Record(Entry{Type: "a", Direction: DirectionInbound})
	r.Record(Entry{Type: "b", Direction: DirectionOutbound})

	var seen []Entry
	errs := r.Replay(func(e Entry) error {
		seen = append(seen, e)
		if e.Type == "b" {
			return errors.New("replay failed")
		}
		return nil
	})

	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	for _, e := range seen {
		if e.Direction != DirectionReplay {
			t.Errorf("replayed entry direction = %v, want %v", e.Direction, DirectionReplay)
		}
	}
}
