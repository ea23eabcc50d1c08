package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// maxCommandIDRetries bounds how often an insert losing the id race is retried.
const maxCommandIDRetries = 5

// CommandRepository implements port.CommandRepository on the test_commands
// table. Ids are assigned inside the insert statement so that concurrent
// writers cannot hand out the same id; the unique primary key arbitrates and
// the loser retries with a fresh number.
type CommandRepository struct {
	exec pgExecutor
}

// NewCommandRepository constructs a CommandRepository.
func NewCommandRepository(exec pgExecutor) *CommandRepository {
	return &CommandRepository{exec: exec}
}

// Store appends one command and returns its assigned id. A caller-provided
// positive id is kept; otherwise the next id after the current maximum is
// taken atomically.
func (r *CommandRepository) Store(ctx context.Context, commanderID, testID int64, command domain.Command) (int64, error) {
	if command.ID > 0 {
		return r.storeWithID(ctx, commanderID, testID, command)
	}

	const query = `
		INSERT INTO test_commands (id, booklet_id, keyword, parameter, commander_id, timestamp)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, $5 FROM test_commands
		RETURNING id`

	parameter, err := marshalArguments(command.Arguments)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt < maxCommandIDRetries; attempt++ {
		var id int64
		err := r.exec.QueryRow(ctx, query, testID, command.Keyword, parameter, commanderID, command.Timestamp).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("insert command: %w", err)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("insert command after %d attempts: %w", maxCommandIDRetries, lastErr)
}

func (r *CommandRepository) storeWithID(ctx context.Context, commanderID, testID int64, command domain.Command) (int64, error) {
	const query = `
		INSERT INTO test_commands (id, booklet_id, keyword, parameter, commander_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	parameter, err := marshalArguments(command.Arguments)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := r.exec.QueryRow(ctx, query, command.ID, testID, command.Keyword, parameter, commanderID, command.Timestamp).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("insert command: %w", err)
	}
	return id, nil
}

func marshalArguments(arguments []string) ([]byte, error) {
	if arguments == nil {
		arguments = []string{}
	}
	payload, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal command arguments: %w", err)
	}
	return payload, nil
}

var _ port.CommandRepository = (*CommandRepository)(nil)
