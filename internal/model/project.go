package model

import (
	"time"

	"buildtrack/internal/schedule"
)

// Project 项目主数据；Progress 和 Status 由阶段汇总得到，不接受客户端写入
type Project struct {
	ID           int64                  `json:"project_id"`
	Name         string                 `json:"name"`
	Location     string                 `json:"location,omitempty"`
	ClientEmail  string                 `json:"client_email,omitempty"`
	StartDate    schedule.Date          `json:"start_date"`
	EndDate      schedule.Date          `json:"end_date"`
	Budget       float64                `json:"budget"`
	Progress     float64                `json:"progress"`
	Status       schedule.ProjectStatus `json:"status"`
	ChainVersion int64                  `json:"chain_version"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ApplyRollup 写入汇总结果
func (p *Project) ApplyRollup(r schedule.Rollup) {
	p.Progress = r.Progress
	p.Status = r.Status
}
