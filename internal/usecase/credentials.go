package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

// CredentialService matches claimed test-taker credentials against the
// loaded group definitions.
type CredentialService struct {
	source port.CredentialSource
	now    func() time.Time
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(source port.CredentialSource) *CredentialService {
	return &CredentialService{
		source: source,
		now:    time.Now,
	}
}

// Match searches all group definitions in load order for a login descriptor
// matching the claimed name and password. The first match wins. Descriptors
// of groups outside their validity window never match. Returns
// ErrNoLoginFound when nothing matches; the reason stays undifferentiated.
func (s *CredentialService) Match(ctx context.Context, claimedName, claimedPassword string) (*domain.PotentialLogin, error) {
	groups, err := s.source.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load group definitions: %w", err)
	}

	now := s.now()
	for _, group := range groups {
		if !group.ActiveAt(now) {
			continue
		}
		for _, descriptor := range group.Logins {
			if !descriptorMatches(descriptor, claimedName, claimedPassword) {
				continue
			}
			return &domain.PotentialLogin{
				Name:        descriptor.Name,
				Mode:        descriptor.Mode,
				GroupName:   group.Name,
				GroupLabel:  group.Label,
				WorkspaceID: group.WorkspaceID,
				Booklets:    descriptor.Booklets,
				ValidFrom:   group.ValidFrom,
				ValidTo:     group.ValidTo,
				CustomTexts: descriptor.CustomTexts,
			}, nil
		}
	}

	return nil, ErrNoLoginFound
}

// MatchByCode resolves the booklet list for a claimed code. A code-less
// login (single empty-string key) returns its list regardless of the claim.
func (s *CredentialService) MatchByCode(potential *domain.PotentialLogin, claimedCode string) ([]string, error) {
	if potential == nil || len(potential.Booklets) == 0 {
		return nil, ErrNoLoginFound
	}

	if booklets, ok := potential.Booklets[""]; ok && len(potential.Booklets) == 1 {
		return booklets, nil
	}

	booklets, ok := potential.Booklets[claimedCode]
	if !ok {
		return nil, ErrNoLoginFound
	}
	return booklets, nil
}

// descriptorMatches applies the name/password rule: exact case-sensitive
// name match, and either the descriptor declares no password (the claim is
// ignored) or the passwords are exactly equal.
func descriptorMatches(descriptor domain.LoginDescriptor, claimedName, claimedPassword string) bool {
	if descriptor.Name != claimedName {
		return false
	}
	if descriptor.Password == "" {
		return true
	}
	return descriptor.Password == claimedPassword
}
