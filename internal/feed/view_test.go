package feed

import (
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

func TestView_RefreshMatchesFilter(t *testing.T) {
	vis := followListVis()
	notes := []model.Note{
		reply("a", alice, 3*time.Minute),
		reply("b", bob, 2*time.Minute),
		reply("c", alice, time.Minute),
	}

	v := NewView()
	got := v.Refresh(notes, vis, now)

	if !reflect.DeepEqual(got, Filter(notes, vis, now)) {
		t.Errorf("Refresh = %v, want Filter output", ids(got))
	}
	if v.Key() != Key(viewer, vis.ActiveList) {
		t.Errorf("Key = %q", v.Key())
	}
}

func TestView_AddMergesWithoutDuplicates(t *testing.T) {
	vis := followListVis()
	v := NewView()
	v.Refresh([]model.Note{reply("a", alice, 3*time.Minute)}, vis, now)

	got, ok := v.Add([]model.Note{
		reply("b", alice, time.Minute),
		reply("a", alice, 3*time.Minute),
		reply("c", bob, 2*time.Minute),
	}, vis, now)
	if !ok {
		t.Fatal("Add should succeed for the same key")
	}
	if want := []string{"b", "a"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("Add = %v, want %v", ids(got), want)
	}
}

func TestView_AddEqualsFullFilter(t *testing.T) {
	vis := followListVis()
	first := []model.Note{reply("a", alice, 5*time.Minute), reply("b", alice, 4*time.Minute)}
	second := []model.Note{reply("c", alice, 4*time.Minute), reply("d", bob, time.Minute, model.Tag{"t", "golang"})}

	v := NewView()
	v.Refresh(first, vis, now)
	got, _ := v.Add(second, vis, now)

	want := Filter(append(append([]model.Note(nil), first...), second...), vis, now)
	if !reflect.DeepEqual(ids(got), ids(want)) {
		t.Errorf("incremental = %v, full = %v", ids(got), ids(want))
	}
}

func TestView_FutureNotesBecomeVisibleLater(t *testing.T) {
	vis := followListVis()
	v := NewView()
	future := reply("future", alice, -time.Minute)

	got := v.Refresh([]model.Note{future}, vis, now)
	if len(got) != 0 {
		t.Fatalf("future note should be excluded, got %v", ids(got))
	}

	later := now.Add(2 * time.Minute)
	got, ok := v.Add(nil, vis, later)
	if !ok {
		t.Fatal("Add should succeed for the same key")
	}
	if !reflect.DeepEqual(ids(got), []string{"future"}) {
		t.Errorf("Add = %v, want [future]", ids(got))
	}
}

func TestView_AddWithDifferentKeyRequiresRefresh(t *testing.T) {
	vis := followListVis()
	v := NewView()

	if _, ok := v.Add(nil, vis, now); ok {
		t.Error("Add before Refresh should report a key mismatch")
	}

	v.Refresh(nil, vis, now)
	other := vis
	other.ActiveList = model.GlobalList
	if _, ok := v.Add(nil, other, now); ok {
		t.Error("Add with a different list should report a key mismatch")
	}
}

func TestView_NotesReturnsCopy(t *testing.T) {
	vis := followListVis()
	v := NewView()
	v.Refresh([]model.Note{reply("a", alice, time.Minute)}, vis, now)

	notes := v.Notes()
	notes[0].ID = "mutated"

	if v.Notes()[0].ID != "a" {
		t.Error("Notes should return a copy")
	}
}
