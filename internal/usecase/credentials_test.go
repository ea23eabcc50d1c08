package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

func testGroups() []domain.GroupDefinition {
	return []domain.GroupDefinition{
		{
			Name:        "sample_group",
			Label:       "Sample Group",
			WorkspaceID: 1,
			Logins: []domain.LoginDescriptor{
				{
					Name:     "alice",
					Password: "secret",
					Mode:     domain.ModeRunHotReturn,
					Booklets: map[string][]string{
						"CODE1": {"BOOKLET.A", "BOOKLET.B"},
						"CODE2": {"BOOKLET.A"},
					},
				},
				{
					Name:     "bob",
					Password: "",
					Mode:     domain.ModeRunDemo,
					Booklets: map[string][]string{
						"": {"BOOKLET.DEMO"},
					},
				},
			},
		},
		{
			Name:        "second_group",
			Label:       "Second Group",
			WorkspaceID: 2,
			Logins: []domain.LoginDescriptor{
				{
					Name:     "alice",
					Password: "other",
					Mode:     domain.ModeRunHotRestart,
					Booklets: map[string][]string{"": {"BOOKLET.X"}},
				},
			},
		},
	}
}

func TestMatchCredentials(t *testing.T) {
	service := NewCredentialService(&staticSource{groups: testGroups()})
	ctx := context.Background()

	potential, err := service.Match(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("match alice: %v", err)
	}
	if potential.GroupName != "sample_group" {
		t.Fatalf("expected first matching group to win, got %q", potential.GroupName)
	}
	if potential.Mode != domain.ModeRunHotReturn {
		t.Fatalf("unexpected mode %q", potential.Mode)
	}
	if !potential.CodeRequired() {
		t.Fatalf("alice has coded booklets, code should be required")
	}

	if _, err := service.Match(ctx, "alice", "wrong"); !errors.Is(err, ErrNoLoginFound) {
		t.Fatalf("wrong password: expected ErrNoLoginFound, got %v", err)
	}
	if _, err := service.Match(ctx, "nobody", "secret"); !errors.Is(err, ErrNoLoginFound) {
		t.Fatalf("unknown name: expected ErrNoLoginFound, got %v", err)
	}
	if _, err := service.Match(ctx, "", ""); !errors.Is(err, ErrNoLoginFound) {
		t.Fatalf("empty claim: expected ErrNoLoginFound, got %v", err)
	}
}

func TestMatchIgnoresClaimWhenDescriptorHasNoPassword(t *testing.T) {
	service := NewCredentialService(&staticSource{groups: testGroups()})

	potential, err := service.Match(context.Background(), "bob", "anything at all")
	if err != nil {
		t.Fatalf("match bob: %v", err)
	}
	if potential.Name != "bob" {
		t.Fatalf("unexpected login %q", potential.Name)
	}
	if potential.CodeRequired() {
		t.Fatalf("bob is code-less, no code expected")
	}
}

func TestMatchHonorsValidityWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	groups := []domain.GroupDefinition{
		{
			Name:        "windowed",
			WorkspaceID: 1,
			ValidFrom:   base,
			ValidTo:     base.Add(time.Hour),
			Logins: []domain.LoginDescriptor{
				{Name: "carla", Password: "pw", Mode: domain.ModeRunHotReturn, Booklets: map[string][]string{"": {"B1"}}},
			},
		},
	}
	service := NewCredentialService(&staticSource{groups: groups})
	ctx := context.Background()

	cases := []struct {
		at      time.Time
		matches bool
	}{
		{base.Add(-time.Minute), false},
		{base, true},
		{base.Add(30 * time.Minute), true},
		{base.Add(time.Hour), false},
	}
	for _, tc := range cases {
		service.now = func() time.Time { return tc.at }
		_, err := service.Match(ctx, "carla", "pw")
		if tc.matches && err != nil {
			t.Fatalf("at %v: expected match, got %v", tc.at, err)
		}
		if !tc.matches && !errors.Is(err, ErrNoLoginFound) {
			t.Fatalf("at %v: expected ErrNoLoginFound, got %v", tc.at, err)
		}
	}
}

func TestMatchByCode(t *testing.T) {
	service := NewCredentialService(&staticSource{})

	coded := &domain.PotentialLogin{
		Booklets: map[string][]string{
			"CODE1": {"BOOKLET.A", "BOOKLET.B"},
			"CODE2": {"BOOKLET.A"},
		},
	}
	booklets, err := service.MatchByCode(coded, "CODE1")
	if err != nil {
		t.Fatalf("match CODE1: %v", err)
	}
	if len(booklets) != 2 || booklets[0] != "BOOKLET.A" {
		t.Fatalf("unexpected booklets %v", booklets)
	}

	if _, err := service.MatchByCode(coded, "NOPE"); !errors.Is(err, ErrNoLoginFound) {
		t.Fatalf("unknown code: expected ErrNoLoginFound, got %v", err)
	}

	codeless := &domain.PotentialLogin{Booklets: map[string][]string{"": {"BOOKLET.DEMO"}}}
	booklets, err = service.MatchByCode(codeless, "IGNORED")
	if err != nil {
		t.Fatalf("code-less login must ignore the claimed code: %v", err)
	}
	if len(booklets) != 1 || booklets[0] != "BOOKLET.DEMO" {
		t.Fatalf("unexpected booklets %v", booklets)
	}

	if _, err := service.MatchByCode(nil, ""); !errors.Is(err, ErrNoLoginFound) {
		t.Fatalf("nil potential: expected ErrNoLoginFound, got %v", err)
	}
}
