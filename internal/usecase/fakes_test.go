package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// staticSource serves a fixed set of group definitions.
type staticSource struct {
	groups []domain.GroupDefinition
}

func (s *staticSource) Groups(context.Context) ([]domain.GroupDefinition, error) {
	return s.groups, nil
}

// fakeTokenStore keeps tokens in memory with the same contract as the real
// stores: sliding expiry, single admin session, parent cascade on revoke.
type fakeTokenStore struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]domain.AuthToken
	now    func() time.Time
}

func newFakeTokenStore(now func() time.Time) *fakeTokenStore {
	return &fakeTokenStore{
		tokens: make(map[string]domain.AuthToken),
		now:    now,
	}
}

func (f *fakeTokenStore) Issue(_ context.Context, kind domain.TokenKind, ownerID int64, ttl time.Duration) (domain.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == domain.TokenKindAdmin {
		for key, token := range f.tokens {
			if token.Kind == kind && token.OwnerID == ownerID {
				delete(f.tokens, key)
			}
		}
	}
	return f.issueLocked(kind, ownerID, nil, ttl), nil
}

func (f *fakeTokenStore) IssueChild(_ context.Context, kind domain.TokenKind, ownerID int64, parentToken string, ttl time.Duration) (domain.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueLocked(kind, ownerID, &parentToken, ttl), nil
}

func (f *fakeTokenStore) issueLocked(kind domain.TokenKind, ownerID int64, parent *string, ttl time.Duration) domain.AuthToken {
	f.seq++
	now := f.now()
	token := domain.AuthToken{
		Token:       fmt.Sprintf("tok-%d", f.seq),
		Kind:        kind,
		OwnerID:     ownerID,
		ParentToken: parent,
		IssuedAt:    now,
		ValidUntil:  now.Add(ttl),
	}
	f.tokens[token.Token] = token
	return token
}

func (f *fakeTokenStore) Validate(_ context.Context, tokenString string) (*domain.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[tokenString]
	if !ok || token.Expired(f.now()) {
		return nil, repository.ErrNotFound
	}
	return &token, nil
}

func (f *fakeTokenStore) FindByOwner(_ context.Context, kind domain.TokenKind, ownerID int64) (*domain.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *domain.AuthToken
	for _, token := range f.tokens {
		token := token
		if token.Kind != kind || token.OwnerID != ownerID || token.Expired(f.now()) {
			continue
		}
		if newest == nil || token.IssuedAt.After(newest.IssuedAt) {
			newest = &token
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	return newest, nil
}

func (f *fakeTokenStore) Refresh(_ context.Context, tokenString string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[tokenString]
	if !ok || token.Expired(f.now()) {
		return repository.ErrNotFound
	}
	candidate := f.now().Add(ttl)
	if candidate.After(token.ValidUntil) {
		token.ValidUntil = candidate
		f.tokens[tokenString] = token
	}
	return nil
}

func (f *fakeTokenStore) Revoke(_ context.Context, tokenString string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenString)
	for key, token := range f.tokens {
		if token.ParentToken != nil && *token.ParentToken == tokenString {
			delete(f.tokens, key)
		}
	}
	return nil
}

func (f *fakeTokenStore) RevokeByOwner(_ context.Context, kind domain.TokenKind, ownerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, token := range f.tokens {
		if token.Kind == kind && token.OwnerID == ownerID {
			delete(f.tokens, key)
		}
	}
	return nil
}

// fakeLoginRepo keeps logins in memory keyed by id and (workspace, name).
type fakeLoginRepo struct {
	mu     sync.Mutex
	seq    int64
	logins map[int64]domain.Login
}

func newFakeLoginRepo() *fakeLoginRepo {
	return &fakeLoginRepo{logins: make(map[int64]domain.Login)}
}

func (f *fakeLoginRepo) Create(_ context.Context, login domain.Login) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.logins {
		if existing.WorkspaceID == login.WorkspaceID && existing.Name == login.Name {
			return 0, repository.ErrConflict
		}
	}
	f.seq++
	login.ID = f.seq
	login.Token = ""
	f.logins[login.ID] = login
	return login.ID, nil
}

func (f *fakeLoginRepo) GetByID(_ context.Context, loginID int64) (*domain.Login, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	login, ok := f.logins[loginID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &login, nil
}

func (f *fakeLoginRepo) GetByName(_ context.Context, workspaceID int, name string) (*domain.Login, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, login := range f.logins {
		if login.WorkspaceID == workspaceID && login.Name == name {
			login := login
			return &login, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLoginRepo) UpdateAssignment(_ context.Context, loginID int64, booklets map[string][]string, groupName string, validTo time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	login, ok := f.logins[loginID]
	if !ok {
		return repository.ErrNotFound
	}
	login.Booklets = booklets
	login.GroupName = groupName
	login.ValidTo = validTo
	f.logins[loginID] = login
	return nil
}

func (f *fakeLoginRepo) DeleteByGroup(_ context.Context, workspaceID int, groupName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, login := range f.logins {
		if login.WorkspaceID == workspaceID && login.GroupName == groupName {
			delete(f.logins, id)
			count++
		}
	}
	return count, nil
}

// fakePersonRepo keeps persons in memory keyed by id and (login, code).
type fakePersonRepo struct {
	mu      sync.Mutex
	seq     int64
	persons map[int64]domain.Person
	logins  *fakeLoginRepo
}

func newFakePersonRepo(logins *fakeLoginRepo) *fakePersonRepo {
	return &fakePersonRepo{persons: make(map[int64]domain.Person), logins: logins}
}

func (f *fakePersonRepo) Create(_ context.Context, person domain.Person) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.persons {
		if existing.LoginID == person.LoginID && existing.Code == person.Code {
			return 0, repository.ErrConflict
		}
	}
	f.seq++
	person.ID = f.seq
	person.Token = ""
	f.persons[person.ID] = person
	return person.ID, nil
}

func (f *fakePersonRepo) GetByLoginAndCode(_ context.Context, loginID int64, code string) (*domain.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, person := range f.persons {
		if person.LoginID == loginID && person.Code == code {
			person := person
			return &person, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakePersonRepo) GetWithLogin(ctx context.Context, personID int64) (*domain.LoginWithPerson, error) {
	f.mu.Lock()
	person, ok := f.persons[personID]
	f.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	login, err := f.logins.GetByID(ctx, person.LoginID)
	if err != nil {
		return nil, err
	}
	return &domain.LoginWithPerson{Login: *login, Person: person}, nil
}

func (f *fakePersonRepo) Touch(_ context.Context, personID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	person, ok := f.persons[personID]
	if !ok {
		return repository.ErrNotFound
	}
	person.LastSeen = at
	f.persons[personID] = person
	return nil
}

// fakeTestRepo keeps tests in memory with the unique (person, name) contract.
type fakeTestRepo struct {
	mu    sync.Mutex
	seq   int64
	tests map[int64]domain.Test
	logs  map[int64][]domain.LogEntry
	revs  map[int64][]domain.Review
}

func newFakeTestRepo() *fakeTestRepo {
	return &fakeTestRepo{
		tests: make(map[int64]domain.Test),
		logs:  make(map[int64][]domain.LogEntry),
		revs:  make(map[int64][]domain.Review),
	}
}

func (f *fakeTestRepo) Create(_ context.Context, test domain.Test) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tests {
		if existing.PersonID == test.PersonID && existing.Name == test.Name {
			return 0, repository.ErrConflict
		}
	}
	f.seq++
	test.ID = f.seq
	f.tests[test.ID] = test
	return test.ID, nil
}

func (f *fakeTestRepo) GetByID(_ context.Context, testID int64) (*domain.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &test, nil
}

func (f *fakeTestRepo) GetByPersonAndName(_ context.Context, personID int64, bookletName string) (*domain.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, test := range f.tests {
		if test.PersonID == personID && test.Name == bookletName {
			test := test
			return &test, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTestRepo) IsLocked(_ context.Context, testID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return false, repository.ErrNotFound
	}
	return test.Locked, nil
}

func (f *fakeTestRepo) SetLocked(_ context.Context, testID int64, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return repository.ErrNotFound
	}
	test.Locked = locked
	f.tests[testID] = test
	return nil
}

func (f *fakeTestRepo) UnlockByGroup(_ context.Context, _ int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, test := range f.tests {
		if test.Locked {
			test.Locked = false
			f.tests[id] = test
			count++
		}
	}
	return count, nil
}

func (f *fakeTestRepo) MergeLastState(_ context.Context, testID int64, patch map[string]string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return repository.ErrNotFound
	}
	if test.LastState == nil {
		test.LastState = make(map[string]string)
	}
	for key, value := range patch {
		test.LastState[key] = value
	}
	test.TimestampServer = at
	f.tests[testID] = test
	return nil
}

func (f *fakeTestRepo) AddLog(_ context.Context, testID int64, entry domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[testID] = append(f.logs[testID], entry)
	return nil
}

func (f *fakeTestRepo) AddReview(_ context.Context, testID int64, review domain.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs[testID] = append(f.revs[testID], review)
	return nil
}

// fakeUnitRepo keeps units in memory keyed by (test, name).
type fakeUnitRepo struct {
	mu    sync.Mutex
	units map[string]*domain.Unit
	logs  map[string][]domain.LogEntry
	revs  map[string][]domain.Review
}

func newFakeUnitRepo() *fakeUnitRepo {
	return &fakeUnitRepo{
		units: make(map[string]*domain.Unit),
		logs:  make(map[string][]domain.LogEntry),
		revs:  make(map[string][]domain.Review),
	}
}

func unitKey(testID int64, unitName string) string {
	return fmt.Sprintf("%d/%s", testID, unitName)
}

func (f *fakeUnitRepo) EnsureUnit(_ context.Context, testID int64, unitName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := unitKey(testID, unitName)
	if _, ok := f.units[key]; !ok {
		f.units[key] = &domain.Unit{TestID: testID, Name: unitName}
	}
	return nil
}

func (f *fakeUnitRepo) GetUnit(_ context.Context, testID int64, unitName string) (*domain.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[unitKey(testID, unitName)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *unit
	return &copied, nil
}

func (f *fakeUnitRepo) UpdateResponse(_ context.Context, testID int64, unitName, response, responseType string, timestamp int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[unitKey(testID, unitName)]
	if !ok {
		return repository.ErrNotFound
	}
	unit.Responses = &response
	unit.ResponseType = responseType
	at := time.UnixMilli(timestamp).UTC()
	unit.ResponsesAt = &at
	return nil
}

func (f *fakeUnitRepo) UpdateRestorePoint(_ context.Context, testID int64, unitName, restorePoint string, timestamp int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[unitKey(testID, unitName)]
	if !ok {
		return repository.ErrNotFound
	}
	unit.RestorePoint = &restorePoint
	at := time.UnixMilli(timestamp).UTC()
	unit.RestorePointAt = &at
	return nil
}

func (f *fakeUnitRepo) MergeLastState(_ context.Context, testID int64, unitName string, patch map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	unit, ok := f.units[unitKey(testID, unitName)]
	if !ok {
		return repository.ErrNotFound
	}
	if unit.LastState == nil {
		unit.LastState = make(map[string]string)
	}
	for key, value := range patch {
		unit.LastState[key] = value
	}
	return nil
}

func (f *fakeUnitRepo) AddLog(_ context.Context, testID int64, unitName string, entry domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[unitKey(testID, unitName)] = append(f.logs[unitKey(testID, unitName)], entry)
	return nil
}

func (f *fakeUnitRepo) AddReview(_ context.Context, testID int64, unitName string, review domain.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs[unitKey(testID, unitName)] = append(f.revs[unitKey(testID, unitName)], review)
	return nil
}

// fakeCommandRepo assigns sequential command ids atomically.
type fakeCommandRepo struct {
	mu       sync.Mutex
	seq      int64
	commands []domain.Command
}

func (f *fakeCommandRepo) Store(_ context.Context, commanderID, testID int64, command domain.Command) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	command.ID = f.seq
	command.TestID = testID
	command.CommanderID = commanderID
	f.commands = append(f.commands, command)
	return command.ID, nil
}

// fakeUserRepo serves a fixed set of admin users and workspace grants.
type fakeUserRepo struct {
	users      map[int64]domain.User
	workspaces map[int64][]domain.Workspace
	updated    map[int64]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:      make(map[int64]domain.User),
		workspaces: make(map[int64][]domain.Workspace),
		updated:    make(map[int64]string),
	}
}

func (f *fakeUserRepo) GetByName(_ context.Context, name string) (*domain.User, error) {
	for _, user := range f.users {
		if user.Name == name {
			user := user
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) GetByID(_ context.Context, userID int64) (*domain.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (f *fakeUserRepo) Workspaces(_ context.Context, userID int64) ([]domain.Workspace, error) {
	return f.workspaces[userID], nil
}

func (f *fakeUserRepo) WorkspaceRole(_ context.Context, userID int64, workspaceID int) (string, error) {
	for _, workspace := range f.workspaces[userID] {
		if workspace.ID == workspaceID {
			return workspace.Role, nil
		}
	}
	return "", repository.ErrNotFound
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	if _, ok := f.users[userID]; !ok {
		return repository.ErrNotFound
	}
	f.updated[userID] = passwordHash
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

// recordingSink captures broadcast notifications for assertions.
type recordingSink struct {
	mu       sync.Mutex
	messages []domain.SessionChangeMessage
	deleted  []string
}

func (r *recordingSink) SessionChange(_ context.Context, message domain.SessionChangeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingSink) SessionsDeleted(_ context.Context, _ int, groupName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, groupName)
}
