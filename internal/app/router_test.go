package app_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voicelearn/internal/app"
	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/internal/screen"
)

// fakeScreen counts Close calls.
type fakeScreen struct {
	view   app.View
	closes int
}

func (s *fakeScreen) Close() { s.closes++ }

type fakeBuilder struct {
	built []*fakeScreen
	items []*library.Item
	fail  app.View
	err   error
}

func (b *fakeBuilder) Build(view app.View, item *library.Item) (screen.Screen, error) {
	b.items = append(b.items, item)
	if b.err != nil && view == b.fail {
		return nil, b.err
	}
	if view == app.ViewHome {
		return nil, nil
	}
	s := &fakeScreen{view: view}
	b.built = append(b.built, s)
	return s, nil
}

var physics = &library.Item{ID: "2", Title: "Physics 101 Notes", Content: []string{"F = ma."}}

func TestRouter_BackRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path []app.View
		item *library.Item
		want app.View
	}{
		{"solver with item returns to reader", []app.View{app.ViewReader, app.ViewSolver}, physics, app.ViewReader},
		{"solver without item returns home", []app.View{app.ViewSolver}, nil, app.ViewHome},
		{"reader returns home", []app.View{app.ViewReader}, physics, app.ViewHome},
		{"search returns home", []app.View{app.ViewSearch}, nil, app.ViewHome},
		{"home stays home", nil, nil, app.ViewHome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := app.NewRouter(&fakeBuilder{})
			for i, v := range tt.path {
				item := tt.item
				if i > 0 {
					item = nil
				}
				if _, err := r.Navigate(v, item); err != nil {
					t.Fatalf("Navigate(%v): %v", v, err)
				}
			}
			got, _, err := r.Back()
			if err != nil {
				t.Fatalf("Back: %v", err)
			}
			if got != tt.want || r.View() != tt.want {
				t.Errorf("Back = %v (view %v), want %v", got, r.View(), tt.want)
			}
		})
	}
}

func TestRouter_NavigateClosesPreviousScreen(t *testing.T) {
	t.Parallel()
	b := &fakeBuilder{}
	r := app.NewRouter(b)

	if _, err := r.Navigate(app.ViewReader, physics); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Navigate(app.ViewSolver, nil); err != nil {
		t.Fatal(err)
	}
	if b.built[0].closes != 1 {
		t.Errorf("reader closed %d times, want 1", b.built[0].closes)
	}
	if got := b.items[1]; got == nil || got.ID != "2" {
		t.Errorf("solver built with item %+v, want the selected one", got)
	}
	if _, ok := r.Item(); !ok {
		t.Error("selection lost")
	}

	r.Close()
	if b.built[1].closes != 1 || r.Current() != nil || r.View() != app.ViewHome {
		t.Error("Close did not release the solver")
	}
}

func TestRouter_ReaderNeedsItem(t *testing.T) {
	t.Parallel()
	r := app.NewRouter(&fakeBuilder{})
	if _, err := r.Navigate(app.ViewReader, nil); err == nil {
		t.Fatal("reader opened without an item")
	}
	if r.View() != app.ViewHome {
		t.Errorf("view = %v, want home", r.View())
	}
}

func TestRouter_BuildFailureFallsBackHome(t *testing.T) {
	t.Parallel()
	boom := errors.New("no speaker")
	b := &fakeBuilder{fail: app.ViewSearch, err: boom}
	r := app.NewRouter(b)
	if _, err := r.Navigate(app.ViewSolver, nil); err != nil {
		t.Fatal(err)
	}

	_, err := r.Navigate(app.ViewSearch, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if r.View() != app.ViewHome || r.Current() != nil {
		t.Errorf("view = %v current = %v after failure", r.View(), r.Current())
	}
	if b.built[0].closes != 1 {
		t.Error("solver left open")
	}
}

func TestParseView(t *testing.T) {
	t.Parallel()
	for _, v := range []app.View{app.ViewHome, app.ViewReader, app.ViewSolver, app.ViewSearch} {
		got, err := app.ParseView(v.String())
		if err != nil || got != v {
			t.Errorf("ParseView(%q) = %v, %v", v.String(), got, err)
		}
	}
	if _, err := app.ParseView("settings"); err == nil {
		t.Error("ParseView accepted an unknown view")
	}
}
