package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/config"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// adminSessionSource lets the session service hand off admin tokens without
// depending on the full AdminService surface.
type adminSessionSource interface {
	SessionByToken(ctx context.Context, token string) (*domain.Session, error)
}

// SessionService drives the test-taker session state machine: credential
// match, optional code step, person resolution, and session lookup by token.
type SessionService struct {
	cfg         config.SessionSettings
	tokens      port.TokenStore
	credentials *CredentialService
	logins      port.LoginRepository
	persons     port.PersonRepository
	admins      adminSessionSource
	broadcast   port.BroadcastSink
	now         func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(
	cfg config.SessionSettings,
	tokens port.TokenStore,
	credentials *CredentialService,
	logins port.LoginRepository,
	persons port.PersonRepository,
	admins adminSessionSource,
	broadcast port.BroadcastSink,
) *SessionService {
	return &SessionService{
		cfg:         cfg,
		tokens:      tokens,
		credentials: credentials,
		logins:      logins,
		persons:     persons,
		admins:      admins,
		broadcast:   broadcast,
		now:         time.Now,
	}
}

// LoginWithCredentials matches the claim against the group definitions and
// either resolves straight to a person session (no code needed) or returns a
// login session flagged codeRequired.
func (s *SessionService) LoginWithCredentials(ctx context.Context, name, password string) (*domain.Session, error) {
	potential, err := s.credentials.Match(ctx, name, password)
	if err != nil {
		return nil, err
	}

	login, err := s.getOrCreateLogin(ctx, potential, false)
	if err != nil {
		return nil, err
	}

	if !login.CodeRequired() {
		return s.resolvePerson(ctx, login, "")
	}

	session := domain.NewSession(login.Token, login.GroupName+"/"+login.Name)
	session.Flags = []string{domain.FlagCodeRequired}
	session.CustomTexts = login.CustomTexts
	return session, nil
}

// SubmitCode moves a codeRequired login session to a person session. A code
// absent from the login's booklet map fails with ErrNoLoginFound.
func (s *SessionService) SubmitCode(ctx context.Context, loginToken, code string) (*domain.Session, error) {
	login, err := s.loginByToken(ctx, loginToken)
	if err != nil {
		return nil, err
	}
	return s.resolvePerson(ctx, login, code)
}

// SessionByToken resolves any token kind to its session. Re-presenting a
// person token short-circuits to the person session and re-broadcasts the
// login event so monitors see a still-active signal.
func (s *SessionService) SessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	authToken, err := s.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("validate token: %w", err)
	}

	switch authToken.Kind {
	case domain.TokenKindAdmin:
		return s.admins.SessionByToken(ctx, token)

	case domain.TokenKindLogin:
		login, err := s.loginForAuthToken(ctx, authToken)
		if err != nil {
			return nil, err
		}
		if err := s.tokens.Refresh(ctx, token, s.cfg.TestTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("refresh login token: %w", err)
		}
		session := domain.NewSession(login.Token, login.GroupName+"/"+login.Name)
		if login.CodeRequired() {
			session.Flags = []string{domain.FlagCodeRequired}
		}
		session.CustomTexts = login.CustomTexts
		return session, nil

	case domain.TokenKindPerson:
		resolved, err := s.persons.GetWithLogin(ctx, authToken.OwnerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUnauthorized
			}
			return nil, fmt.Errorf("resolve person: %w", err)
		}
		if err := s.tokens.Refresh(ctx, token, s.cfg.TestTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("refresh person token: %w", err)
		}
		resolved.Person.Token = token
		s.broadcastPersonLogin(ctx, resolved.Login, resolved.Person)
		return s.personSession(resolved.Login, resolved.Person), nil
	}

	return nil, ErrUnauthorized
}

// PersonByToken resolves a person token to the person and its login.
func (s *SessionService) PersonByToken(ctx context.Context, token string) (*domain.LoginWithPerson, error) {
	authToken, err := s.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if authToken.Kind != domain.TokenKindPerson {
		return nil, ErrUnauthorized
	}

	resolved, err := s.persons.GetWithLogin(ctx, authToken.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve person: %w", err)
	}

	if err := s.tokens.Refresh(ctx, token, s.cfg.TestTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("refresh person token: %w", err)
	}

	resolved.Person.Token = token
	return resolved, nil
}

// Logout revokes the presented token.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	if err := s.tokens.Revoke(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *SessionService) loginByToken(ctx context.Context, token string) (*domain.Login, error) {
	authToken, err := s.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if authToken.Kind != domain.TokenKindLogin {
		return nil, ErrUnauthorized
	}
	return s.loginForAuthToken(ctx, authToken)
}

func (s *SessionService) loginForAuthToken(ctx context.Context, authToken *domain.AuthToken) (*domain.Login, error) {
	login, err := s.logins.GetByID(ctx, authToken.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve login: %w", err)
	}
	login.Token = authToken.Token
	return login, nil
}

// getOrCreateLogin materializes the matched descriptor as a login record.
// Repeat logins by the same name refresh the assignment in place and keep
// the existing token; forceCreate revokes and reissues it.
func (s *SessionService) getOrCreateLogin(ctx context.Context, potential *domain.PotentialLogin, forceCreate bool) (*domain.Login, error) {
	validTo := s.now().Add(s.cfg.TestTokenTTL)

	existing, err := s.logins.GetByName(ctx, potential.WorkspaceID, potential.Name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup login: %w", err)
	}

	if existing == nil {
		login := domain.Login{
			Name:        potential.Name,
			Mode:        potential.Mode,
			GroupName:   potential.GroupName,
			WorkspaceID: potential.WorkspaceID,
			Booklets:    potential.Booklets,
			ValidTo:     validTo,
			CustomTexts: potential.CustomTexts,
		}
		id, err := s.logins.Create(ctx, login)
		switch {
		case err == nil:
			login.ID = id

			token, err := s.tokens.Issue(ctx, domain.TokenKindLogin, id, s.cfg.TestTokenTTL)
			if err != nil {
				return nil, fmt.Errorf("issue login token: %w", err)
			}
			login.Token = token.Token
			return &login, nil
		case errors.Is(err, repository.ErrConflict):
			// Lost a concurrent first login; continue with the winner's row.
			existing, err = s.logins.GetByName(ctx, potential.WorkspaceID, potential.Name)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, ErrConflict
				}
				return nil, fmt.Errorf("lookup login after lost insert: %w", err)
			}
		default:
			return nil, fmt.Errorf("create login: %w", err)
		}
	}

	if err := s.logins.UpdateAssignment(ctx, existing.ID, potential.Booklets, potential.GroupName, validTo); err != nil {
		return nil, fmt.Errorf("refresh login: %w", err)
	}
	existing.Booklets = potential.Booklets
	existing.GroupName = potential.GroupName
	existing.ValidTo = validTo
	existing.CustomTexts = potential.CustomTexts

	if forceCreate {
		if err := s.tokens.RevokeByOwner(ctx, domain.TokenKindLogin, existing.ID); err != nil {
			return nil, fmt.Errorf("revoke login tokens: %w", err)
		}
	}

	token, err := s.tokens.FindByOwner(ctx, domain.TokenKindLogin, existing.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup login token: %w", err)
	}
	if token != nil {
		if err := s.tokens.Refresh(ctx, token.Token, s.cfg.TestTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("refresh login token: %w", err)
		}
		existing.Token = token.Token
		return existing, nil
	}

	issued, err := s.tokens.Issue(ctx, domain.TokenKindLogin, existing.ID, s.cfg.TestTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue login token: %w", err)
	}
	existing.Token = issued.Token
	return existing, nil
}

// resolvePerson validates the code against the login's booklet map, gets or
// creates the person row, issues the person token and broadcasts the login.
func (s *SessionService) resolvePerson(ctx context.Context, login *domain.Login, code string) (*domain.Session, error) {
	if _, ok := login.BookletNames(code); !ok {
		return nil, ErrNoLoginFound
	}

	person, err := s.getOrCreatePerson(ctx, login, code)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.FindByOwner(ctx, domain.TokenKindPerson, person.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup person token: %w", err)
	}
	if token != nil {
		if err := s.tokens.Refresh(ctx, token.Token, s.cfg.TestTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("refresh person token: %w", err)
		}
		person.Token = token.Token
	} else {
		issued, err := s.tokens.IssueChild(ctx, domain.TokenKindPerson, person.ID, login.Token, s.cfg.TestTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue person token: %w", err)
		}
		person.Token = issued.Token
	}

	if err := s.persons.Touch(ctx, person.ID, s.now()); err != nil {
		return nil, fmt.Errorf("touch person: %w", err)
	}

	s.broadcastPersonLogin(ctx, *login, *person)

	return s.personSession(*login, *person), nil
}

// getOrCreatePerson is race-safe: a concurrent create of the same
// (login, code) pair loses the insert and re-reads the winner's row.
func (s *SessionService) getOrCreatePerson(ctx context.Context, login *domain.Login, code string) (*domain.Person, error) {
	person, err := s.persons.GetByLoginAndCode(ctx, login.ID, code)
	if err == nil {
		return person, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup person: %w", err)
	}

	candidate := domain.Person{
		LoginID:  login.ID,
		Code:     code,
		LastSeen: s.now(),
	}
	id, err := s.persons.Create(ctx, candidate)
	if err == nil {
		candidate.ID = id
		return &candidate, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("create person: %w", err)
	}

	// Lost the insert race; the row exists now.
	person, err = s.persons.GetByLoginAndCode(ctx, login.ID, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("lookup person after conflict: %w", err)
	}
	return person, nil
}

func (s *SessionService) personSession(login domain.Login, person domain.Person) *domain.Session {
	displayName := login.GroupName + "/" + login.Name
	if person.Code != "" {
		displayName += "/" + person.Code
	}

	session := domain.NewSession(person.Token, displayName)
	session.CustomTexts = login.CustomTexts
	if booklets, ok := login.BookletNames(person.Code); ok {
		session.AddAccessObjects("test", booklets...)
	}
	return session
}

// broadcastPersonLogin pushes the person login event to the monitoring hub.
// The group-member fan-out for group-monitor logins is intentionally absent.
func (s *SessionService) broadcastPersonLogin(ctx context.Context, login domain.Login, person domain.Person) {
	if s.broadcast == nil {
		return
	}

	message := domain.NewSessionChangeMessage(login.WorkspaceID, person.ID, login.GroupName, 0, s.now())
	message.SetLogin(login.Name, login.Mode, login.GroupName, person.Code)
	s.broadcast.SessionChange(ctx, message)
}
