package feed

import (
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

const (
	viewer = "pk-viewer"
	alice  = "pk-alice"
	bob    = "pk-bob"
	carol  = "pk-carol"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func followListVis() model.VisibilitySet {
	return model.VisibilitySet{
		Viewer:           viewer,
		ActiveList:       "3:" + viewer + ":",
		FollowedAuthors:  set(alice),
		FollowedHashtags: set("golang"),
		FollowedGeotags:  set("xn76u"),
		HiddenAuthors:    set(carol),
	}
}

// reply は返信（会話）ノートを生成する。
func reply(id, author string, ago time.Duration, extra ...model.Tag) model.Note {
	tags := append([]model.Tag{{"e", "root-id", "", "root"}}, extra...)
	return model.Note{ID: id, Author: author, Kind: model.KindTextNote, CreatedAt: now.Add(-ago), Tags: tags}
}

func ids(notes []model.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func TestFilter_KindWhitelist(t *testing.T) {
	vis := followListVis()
	var notes []model.Note
	for i, k := range []model.Kind{
		model.KindTextNote, model.KindPollNote, model.KindChannelMessage,
		model.KindLiveChatMessage, model.KindDraft,
		model.KindFileHeader, model.KindMuteList, model.Kind(7),
	} {
		n := reply(string(rune('a'+i)), alice, time.Duration(i+1)*time.Minute)
		n.Kind = k
		notes = append(notes, n)
	}

	got := ids(Filter(notes, vis, now))
	want := []string{"a", "b", "c", "d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %v, want %v", got, want)
	}
}

func TestFilter_Visibility(t *testing.T) {
	vis := followListVis()
	notes := []model.Note{
		reply("followed-author", alice, time.Minute),
		reply("hashtag", bob, 2*time.Minute, model.Tag{"t", "GoLang"}),
		reply("geotag", bob, 3*time.Minute, model.Tag{"g", "xn76u"}),
		reply("unrelated", bob, 4*time.Minute, model.Tag{"t", "rust"}),
	}

	got := ids(Filter(notes, vis, now))
	want := []string{"followed-author", "hashtag", "geotag"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %v, want %v", got, want)
	}
}

func TestFilter_GlobalListIncludesUnfollowed(t *testing.T) {
	vis := followListVis()
	vis.ActiveList = model.GlobalList
	notes := []model.Note{reply("unrelated", bob, time.Minute)}

	if got := ids(Filter(notes, vis, now)); !reflect.DeepEqual(got, []string{"unrelated"}) {
		t.Errorf("Filter = %v, want [unrelated]", got)
	}
}

func TestFilter_HiddenAuthorSuppressed(t *testing.T) {
	vis := followListVis()
	vis.FollowedAuthors = set(alice, carol)
	notes := []model.Note{
		reply("alice", alice, time.Minute),
		reply("carol", carol, 2*time.Minute),
	}

	if got := ids(Filter(notes, vis, now)); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Filter = %v, want [alice]", got)
	}
}

func TestFilter_OwnBlockListsShowHiddenAuthors(t *testing.T) {
	for _, list := range []string{model.MuteListFor(viewer), model.PeopleBlockListFor(viewer)} {
		t.Run(list, func(t *testing.T) {
			vis := followListVis()
			vis.ActiveList = list
			vis.FollowedAuthors = set(carol)
			notes := []model.Note{reply("carol", carol, time.Minute)}

			if got := ids(Filter(notes, vis, now)); !reflect.DeepEqual(got, []string{"carol"}) {
				t.Errorf("Filter = %v, want [carol]", got)
			}
		})
	}
}

func TestFilter_OtherUsersMuteListStillSuppresses(t *testing.T) {
	vis := followListVis()
	vis.ActiveList = model.MuteListFor(bob)
	vis.FollowedAuthors = set(carol)
	notes := []model.Note{reply("carol", carol, time.Minute)}

	if got := Filter(notes, vis, now); len(got) != 0 {
		t.Errorf("Filter = %v, want empty", ids(got))
	}
}

func TestFilter_RecencyGateIsStrict(t *testing.T) {
	vis := followListVis()
	notes := []model.Note{
		reply("past", alice, time.Second),
		reply("exactly-now", alice, 0),
		reply("future", alice, -time.Minute),
	}

	if got := ids(Filter(notes, vis, now)); !reflect.DeepEqual(got, []string{"past"}) {
		t.Errorf("Filter = %v, want [past]", got)
	}
}

func TestFilter_ExcludesThreadRoots(t *testing.T) {
	vis := followListVis()
	root := model.Note{ID: "root", Author: alice, Kind: model.KindTextNote, CreatedAt: now.Add(-time.Minute)}
	mentionOnly := model.Note{ID: "mention", Author: alice, Kind: model.KindTextNote, CreatedAt: now.Add(-2 * time.Minute),
		Tags: []model.Tag{{"e", "other", "", "mention"}}}
	pollRoot := model.Note{ID: "poll", Author: alice, Kind: model.KindPollNote, CreatedAt: now.Add(-3 * time.Minute)}
	channel := model.Note{ID: "channel", Author: alice, Kind: model.KindChannelMessage, CreatedAt: now.Add(-4 * time.Minute)}
	unmarked := model.Note{ID: "unmarked", Author: alice, Kind: model.KindTextNote, CreatedAt: now.Add(-5 * time.Minute),
		Tags: []model.Tag{{"e", "parent"}}}

	got := ids(Filter([]model.Note{root, mentionOnly, pollRoot, channel, unmarked}, vis, now))
	want := []string{"channel", "unmarked"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %v, want %v", got, want)
	}
}

func TestFilter_SortByTimeThenIDDescending(t *testing.T) {
	vis := followListVis()
	notes := []model.Note{
		reply("aaa", alice, 2*time.Minute),
		reply("bbb", alice, time.Minute),
		reply("ccc", alice, 2*time.Minute),
		reply("abc", alice, 3*time.Minute),
	}

	got := ids(Filter(notes, vis, now))
	want := []string{"bbb", "ccc", "aaa", "abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter = %v, want %v", got, want)
	}
}

func TestFilter_DeterministicAndNonMutating(t *testing.T) {
	vis := followListVis()
	notes := []model.Note{
		reply("x", alice, 2*time.Minute),
		reply("y", alice, 2*time.Minute),
		reply("z", bob, time.Minute, model.Tag{"t", "golang"}),
		reply("x", alice, 2*time.Minute),
	}
	original := append([]model.Note(nil), notes...)

	first := Filter(notes, vis, now)
	second := Filter(notes, vis, now)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Filter is not deterministic: %v vs %v", ids(first), ids(second))
	}
	if !reflect.DeepEqual(notes, original) {
		t.Error("Filter mutated its input")
	}
	if got := ids(first); !reflect.DeepEqual(got, []string{"z", "y", "x"}) {
		t.Errorf("Filter = %v, want [z y x]", got)
	}
}

func TestFilter_OutputSatisfiesAllPredicates(t *testing.T) {
	vis := followListVis()
	var notes []model.Note
	authors := []string{alice, bob, carol, ""}
	for i := 0; i < 40; i++ {
		n := model.Note{
			ID:        string(rune('A' + i)),
			Author:    authors[i%len(authors)],
			Kind:      ConversationKinds[i%len(ConversationKinds)],
			CreatedAt: now.Add(time.Duration(i%7-3) * time.Minute),
		}
		if i%3 != 0 {
			n.Tags = append(n.Tags, model.Tag{"e", "root", "", "reply"})
		}
		if i%5 == 0 {
			n.Tags = append(n.Tags, model.Tag{"t", "GOLANG"})
		}
		notes = append(notes, n)
	}

	out := Filter(notes, vis, now)
	for i, n := range out {
		if !Admits(n, vis) || !n.CreatedAt.Before(now) {
			t.Errorf("note %s violates inclusion predicates", n.ID)
		}
		if i > 0 {
			prev := out[i-1]
			if prev.CreatedAt.Before(n.CreatedAt) {
				t.Errorf("order not non-increasing at %d", i)
			}
			if prev.CreatedAt.Equal(n.CreatedAt) && prev.ID <= n.ID {
				t.Errorf("tie not broken by ID descending at %d", i)
			}
		}
	}
}

func TestFilter_EmptyInput(t *testing.T) {
	if got := Filter(nil, followListVis(), now); got == nil || len(got) != 0 {
		t.Errorf("Filter(nil) = %v, want empty non-nil slice", got)
	}
}

func TestKey(t *testing.T) {
	if got := Key(viewer, model.GlobalList); got != viewer+"- Global " {
		t.Errorf("Key = %q", got)
	}
	if Key(viewer, "a") == Key(viewer, "b") {
		t.Error("different lists should produce different keys")
	}
}
