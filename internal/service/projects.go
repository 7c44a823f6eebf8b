package service

import (
	"context"
	"strings"

	"buildtrack/internal/model"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/logger"

	"go.uber.org/zap"
)

type ProjectInput struct {
	Name        string
	Location    string
	ClientEmail string
	StartDate   schedule.Date
	EndDate     schedule.Date
	Budget      float64
}

// ProjectView 项目、实时汇总和健康标记
type ProjectView struct {
	model.Project
	Rollup schedule.Rollup `json:"rollup"`
	Health schedule.Health `json:"health"`
}

func (s *Scheduler) CreateProject(ctx context.Context, in ProjectInput) (model.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return model.Project{}, invalid("name", "is required")
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate) {
		return model.Project{}, invalid("end_date", "must not be before start_date")
	}
	if in.Budget < 0 {
		return model.Project{}, invalid("budget", "must not be negative")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := model.Project{
		Name:        in.Name,
		Location:    in.Location,
		ClientEmail: in.ClientEmail,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Budget:      in.Budget,
	}
	p.ApplyRollup(schedule.Aggregate(schedule.Chain{}))
	if err := s.store.CreateProject(ctx, &p); err != nil {
		return model.Project{}, err
	}

	logger.WithTrace(ctx, s.logger).Info("Project created",
		zap.Int64("project_id", p.ID),
		zap.String("name", p.Name),
	)
	return p, nil
}

// GetProject aggregates the stored chain on read so the rollup always
// reflects the latest phases.
func (s *Scheduler) GetProject(ctx context.Context, id int64) (ProjectView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	chain, err := s.store.LoadChain(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	r := schedule.Aggregate(chain)
	p.ApplyRollup(r)
	p.ChainVersion = chain.Version
	return ProjectView{
		Project: p,
		Rollup:  r,
		Health:  schedule.DeriveHealth(p.EndDate, r, s.clock.Today()),
	}, nil
}

// ListProjects returns projects with the rollup stored by their last save.
func (s *Scheduler) ListProjects(ctx context.Context) ([]model.Project, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListProjects(ctx)
}

// DeleteProject 在项目锁内删除，避免和进行中的级联交叉
func (s *Scheduler) DeleteProject(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Project deleted", zap.Int64("project_id", id))
	return nil
}
