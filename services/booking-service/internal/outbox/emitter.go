package outbox

import (
	"context"

	"github.com/md-rashed-zaman/apptbook/libs/db"
)

// Emitter writes standalone events that are not part of a larger
// transaction.
type Emitter struct {
	db   db.Executor
	repo *Repository
}

func NewEmitter(q db.Executor, repo *Repository) *Emitter {
	return &Emitter{db: q, repo: repo}
}

func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	return e.repo.Insert(ctx, e.db, evt)
}
