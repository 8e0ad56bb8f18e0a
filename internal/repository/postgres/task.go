package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/lettora/crm-engine/internal/domain"
)

// TaskRepo implements leads.TaskCreator by writing follow-up tasks to
// the shared CRM task table. Task management itself is owned by
// another service; this engine only creates them.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed task creator.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

func (r *TaskRepo) CreateTask(ctx context.Context, task *domain.FollowUpTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, lead_id, title, priority, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), task.LeadID, task.Title, task.Priority, task.DueAt)
	if err != nil {
		return fmt.Errorf("create follow-up task: %w", err)
	}
	return nil
}
