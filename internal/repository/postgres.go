package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"buildtrack/internal/model"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/otel"
	"buildtrack/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore 基于 pgx 的实现；SaveChain 在单个事务中完成
type PostgresStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, outbox: outbox.NewRepository(db)}
}

// Migrate 创建表结构（幂等）
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func dateArg(d schedule.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}

func dateFrom(t *time.Time) schedule.Date {
	if t == nil {
		return schedule.Date{}
	}
	return schedule.DateOf(*t)
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	query := `
		INSERT INTO projects (name, location, client_email, start_date, end_date, budget, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, chain_version, created_at
	`
	if p.Status == "" {
		p.Status = schedule.ProjectPlanning
	}
	return otel.WithDBSpan(ctx, "insert", "projects", func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, query,
			p.Name, p.Location, p.ClientEmail,
			dateArg(p.StartDate), dateArg(p.EndDate),
			p.Budget, string(p.Status),
		).Scan(&p.ID, &p.ChainVersion, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		return nil
	})
}

const projectColumns = `
	SELECT id, name, location, client_email, start_date, end_date, budget,
	       progress, status, chain_version, created_at
	FROM projects
`

func scanProject(row pgx.Row) (model.Project, error) {
	var (
		p          model.Project
		start, end *time.Time
		status     string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Location,
		&p.ClientEmail,
		&start,
		&end,
		&p.Budget,
		&p.Progress,
		&status,
		&p.ChainVersion,
		&p.CreatedAt,
	)
	if err != nil {
		return model.Project{}, err
	}
	p.StartDate = dateFrom(start)
	p.EndDate = dateFrom(end)
	p.Status = schedule.ProjectStatus(status)
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (model.Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx, projectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, &schedule.NotFoundError{Entity: "project", ID: id}
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.Query(ctx, projectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject 阶段和项目假日通过 ON DELETE CASCADE 一起删除
func (s *PostgresStore) DeleteProject(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &schedule.NotFoundError{Entity: "project", ID: id}
	}
	return nil
}

const phaseColumns = `
	SELECT schedule_id, project_id, phase_name, description, sequence_position,
	       start_date, duration, end_date, progress, created_at, updated_at
	FROM schedules
`

func scanPhase(row pgx.Row) (schedule.Phase, error) {
	var (
		ph         schedule.Phase
		start, end time.Time
	)
	err := row.Scan(
		&ph.ID,
		&ph.ProjectID,
		&ph.Name,
		&ph.Description,
		&ph.Sequence,
		&start,
		&ph.Duration,
		&end,
		&ph.Progress,
		&ph.CreatedAt,
		&ph.UpdatedAt,
	)
	if err != nil {
		return schedule.Phase{}, err
	}
	ph.StartDate = schedule.DateOf(start)
	ph.EndDate = schedule.DateOf(end)
	return ph, nil
}

func (s *PostgresStore) LoadChain(ctx context.Context, projectID int64) (schedule.Chain, error) {
	chain := schedule.Chain{ProjectID: projectID}
	err := otel.WithDBSpan(ctx, "select", "schedules", func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, `SELECT chain_version FROM projects WHERE id = $1`, projectID).Scan(&chain.Version)
		if errors.Is(err, pgx.ErrNoRows) {
			return &schedule.NotFoundError{Entity: "project", ID: projectID}
		}
		if err != nil {
			return fmt.Errorf("failed to load chain version: %w", err)
		}

		rows, err := s.db.Query(ctx, phaseColumns+` WHERE project_id = $1 ORDER BY sequence_position`, projectID)
		if err != nil {
			return fmt.Errorf("failed to load phases: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			ph, err := scanPhase(rows)
			if err != nil {
				return fmt.Errorf("failed to scan phase: %w", err)
			}
			chain.Phases = append(chain.Phases, ph)
		}
		return rows.Err()
	})
	if err != nil {
		return schedule.Chain{}, err
	}
	return chain, nil
}

func (s *PostgresStore) GetPhase(ctx context.Context, phaseID int64) (schedule.Phase, error) {
	ph, err := scanPhase(s.db.QueryRow(ctx, phaseColumns+` WHERE schedule_id = $1`, phaseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Phase{}, &schedule.NotFoundError{Entity: "phase", ID: phaseID}
	}
	if err != nil {
		return schedule.Phase{}, fmt.Errorf("failed to get phase %d: %w", phaseID, err)
	}
	return ph, nil
}

func (s *PostgresStore) SaveChain(ctx context.Context, u ChainUpdate) (schedule.Chain, error) {
	var saved schedule.Chain
	err := otel.WithDBSpan(ctx, "save_chain", "schedules", func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		saved, err = s.saveChainTx(ctx, tx, u)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit chain: %w", err)
		}
		return nil
	})
	if err != nil {
		return schedule.Chain{}, err
	}
	return saved, nil
}

func (s *PostgresStore) saveChainTx(ctx context.Context, tx pgx.Tx, u ChainUpdate) (schedule.Chain, error) {
	// 乐观锁：版本号不一致则没有行被更新
	tag, err := tx.Exec(ctx, `
		UPDATE projects
		SET chain_version = chain_version + 1, progress = $3, status = $4
		WHERE id = $1 AND chain_version = $2
	`, u.ProjectID, u.ExpectedVersion, u.Rollup.Progress, string(u.Rollup.Status))
	if err != nil {
		return schedule.Chain{}, fmt.Errorf("failed to bump chain version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var actual int64
		err := tx.QueryRow(ctx, `SELECT chain_version FROM projects WHERE id = $1`, u.ProjectID).Scan(&actual)
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Chain{}, &schedule.NotFoundError{Entity: "project", ID: u.ProjectID}
		}
		if err != nil {
			return schedule.Chain{}, fmt.Errorf("failed to read chain version: %w", err)
		}
		return schedule.Chain{}, &schedule.ConcurrentModificationError{
			ProjectID:       u.ProjectID,
			ExpectedVersion: u.ExpectedVersion,
			ActualVersion:   actual,
		}
	}

	saved := u.Chain.Clone()
	saved.ProjectID = u.ProjectID
	saved.Version = u.ExpectedVersion + 1

	keep := make([]int64, 0, len(saved.Phases))
	for _, ph := range saved.Phases {
		if ph.ID != 0 {
			keep = append(keep, ph.ID)
		}
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM schedules WHERE project_id = $1 AND NOT (schedule_id = ANY($2))
	`, u.ProjectID, keep); err != nil {
		return schedule.Chain{}, fmt.Errorf("failed to delete removed phases: %w", err)
	}

	for i := range saved.Phases {
		ph := &saved.Phases[i]
		ph.ProjectID = u.ProjectID
		if ph.ID == 0 {
			err = tx.QueryRow(ctx, `
				INSERT INTO schedules (project_id, phase_name, description, sequence_position,
				                       start_date, duration, end_date, progress)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING schedule_id, created_at, updated_at
			`, u.ProjectID, ph.Name, ph.Description, ph.Sequence,
				ph.StartDate.Time(), ph.Duration, ph.EndDate.Time(), ph.Progress,
			).Scan(&ph.ID, &ph.CreatedAt, &ph.UpdatedAt)
			if err != nil {
				return schedule.Chain{}, fmt.Errorf("failed to insert phase %q: %w", ph.Name, err)
			}
			continue
		}

		err = tx.QueryRow(ctx, `
			UPDATE schedules
			SET phase_name = $3, description = $4, sequence_position = $5,
			    start_date = $6, duration = $7, end_date = $8, progress = $9, updated_at = NOW()
			WHERE schedule_id = $1 AND project_id = $2
			RETURNING created_at, updated_at
		`, ph.ID, u.ProjectID, ph.Name, ph.Description, ph.Sequence,
			ph.StartDate.Time(), ph.Duration, ph.EndDate.Time(), ph.Progress,
		).Scan(&ph.CreatedAt, &ph.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Chain{}, &schedule.NotFoundError{Entity: "phase", ID: ph.ID}
		}
		if err != nil {
			return schedule.Chain{}, fmt.Errorf("failed to update phase %d: %w", ph.ID, err)
		}
	}

	if u.Events != nil {
		events, err := u.Events(saved)
		if err != nil {
			return schedule.Chain{}, err
		}
		if err := outbox.InsertAllInTx(ctx, tx, s.outbox, events); err != nil {
			return schedule.Chain{}, err
		}
	}
	return saved, nil
}

const holidayColumns = `
	SELECT holiday_id, project_id, holiday_date, label, created_at
	FROM holidays
`

func scanHoliday(row pgx.Row) (schedule.Holiday, error) {
	var (
		h         schedule.Holiday
		projectID *int64
		date      time.Time
	)
	if err := row.Scan(&h.ID, &projectID, &date, &h.Label, &h.CreatedAt); err != nil {
		return schedule.Holiday{}, err
	}
	h.Date = schedule.DateOf(date)
	if projectID != nil {
		h.Scope = schedule.ProjectScope(*projectID)
	}
	return h, nil
}

func (s *PostgresStore) ListHolidays(ctx context.Context, f HolidayFilter) ([]schedule.Holiday, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if f.ProjectID == nil {
		rows, err = s.db.Query(ctx, holidayColumns+` ORDER BY holiday_date, holiday_id`)
	} else {
		rows, err = s.db.Query(ctx, holidayColumns+`
			WHERE project_id IS NULL OR project_id = $1
			ORDER BY holiday_date, holiday_id
		`, *f.ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	var out []schedule.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertHoliday(ctx context.Context, h *schedule.Holiday, events HolidayEvents) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO holidays (project_id, holiday_date, label)
		VALUES ($1, $2, $3)
		RETURNING holiday_id, created_at
	`, h.ProjectID(), h.Date.Time(), h.Label).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return &schedule.DuplicateHolidayError{Scope: h.Scope, Date: h.Date}
			case pgForeignKeyViolation:
				return &schedule.NotFoundError{Entity: "project", ID: h.Scope.ProjectID()}
			}
		}
		return fmt.Errorf("failed to insert holiday: %w", err)
	}

	if err := s.insertHolidayEvents(ctx, tx, *h, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit holiday: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHoliday(ctx context.Context, id int64, events HolidayEvents) (schedule.Holiday, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return schedule.Holiday{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	h, err := scanHoliday(tx.QueryRow(ctx, `
		DELETE FROM holidays WHERE holiday_id = $1
		RETURNING holiday_id, project_id, holiday_date, label, created_at
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Holiday{}, &schedule.NotFoundError{Entity: "holiday", ID: id}
	}
	if err != nil {
		return schedule.Holiday{}, fmt.Errorf("failed to delete holiday %d: %w", id, err)
	}

	if err := s.insertHolidayEvents(ctx, tx, h, events); err != nil {
		return schedule.Holiday{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return schedule.Holiday{}, fmt.Errorf("failed to commit holiday removal: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) insertHolidayEvents(ctx context.Context, tx pgx.Tx, h schedule.Holiday, build HolidayEvents) error {
	if build == nil {
		return nil
	}
	events, err := build(h)
	if err != nil {
		return err
	}
	return outbox.InsertAllInTx(ctx, tx, s.outbox, events)
}
