package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// InsertAllInTx 在同一事务中写入一组事件，任一失败则整体失败
func InsertAllInTx(ctx context.Context, tx pgx.Tx, repo *Repository, events []Event) error {
	for i := range events {
		if err := repo.InsertEvent(ctx, tx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
