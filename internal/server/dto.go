package server

import (
	"statusboard/internal/domain"
	"statusboard/internal/engine"
)

// UpdateRequest is the body of POST /update.
type UpdateRequest struct {
	_             struct{} `json:"-" additionalProperties:"true"`
	RoleID        string   `json:"roleId" doc:"Role to update" example:"r1"`
	Status        string   `json:"status" doc:"idle or working" example:"working"`
	TaskName      string   `json:"taskName,omitempty" example:"Draft spec"`
	Progress      *float64 `json:"progress,omitempty" example:"10"`
	SpentTime     *float64 `json:"spentTime,omitempty" doc:"Minutes spent" example:"5"`
	EstimatedTime *float64 `json:"estimatedTime,omitempty" doc:"Minutes estimated" example:"60"`
	EventMessage  string   `json:"eventMessage,omitempty" example:"Started drafting"`
}

func (r UpdateRequest) command() engine.UpdateCommand {
	return engine.UpdateCommand{
		RoleID:        r.RoleID,
		Status:        domain.Status(r.Status),
		TaskName:      r.TaskName,
		Progress:      r.Progress,
		SpentTime:     r.SpentTime,
		EstimatedTime: r.EstimatedTime,
		EventMessage:  r.EventMessage,
	}
}

type UpdateResponse struct {
	Success bool `json:"success"`
}
