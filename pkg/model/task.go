package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of an edit task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusCancelled
}

// EditMode is the high-level operation requested by the user.
type EditMode string

const (
	ModeHeadSwap         EditMode = "HEAD_SWAP"
	ModeBackgroundChange EditMode = "BACKGROUND_CHANGE"
	ModePoseChange       EditMode = "POSE_CHANGE"
)

// ParseEditMode validates a mode string.
func ParseEditMode(s string) (EditMode, bool) {
	switch EditMode(s) {
	case ModeHeadSwap, ModeBackgroundChange, ModePoseChange:
		return EditMode(s), true
	}
	return "", false
}

// Task is the durable record of an edit job.
type Task struct {
	TaskID         string          `json:"task_id" gorm:"primaryKey;size:64;column:task_id"`
	UserID         string          `json:"user_id" gorm:"size:64;index"`
	Mode           EditMode        `json:"mode" gorm:"size:32;index"`
	Status         TaskStatus      `json:"status" gorm:"size:32;index"`
	Progress       int             `json:"progress" gorm:"default:0"`
	CurrentStep    string          `json:"current_step" gorm:"size:256"`
	SourceImage    string          `json:"source_image" gorm:"size:256"`
	ReferenceImage string          `json:"reference_image" gorm:"size:256"`
	Config         json.RawMessage `json:"config" gorm:"type:jsonb"`
	CreditsUsed    int             `json:"credits_consumed" gorm:"column:credits_consumed"`
	Refunded       bool            `json:"refunded" gorm:"default:false"`
	Result         json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error          json.RawMessage `json:"error,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	ProcessingTime float64         `json:"processing_time"`
}

// TableName returns the table name for GORM.
func (Task) TableName() string {
	return "tasks"
}

// ImageRef points at a produced or consumed artifact.
type ImageRef struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// TaskResult is the structured payload stored on a completed task.
type TaskResult struct {
	OutputImage     string                 `json:"output_image"`
	Thumbnail       string                 `json:"thumbnail,omitempty"`
	ComparisonImage string                 `json:"comparison_image,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// TaskError is the structured payload stored on a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ParsedResult decodes the result payload, returning nil when absent.
func (t *Task) ParsedResult() *TaskResult {
	if len(t.Result) == 0 {
		return nil
	}
	var r TaskResult
	if err := json.Unmarshal(t.Result, &r); err != nil {
		return nil
	}
	return &r
}

// ParsedError decodes the error payload, returning nil when absent.
func (t *Task) ParsedError() *TaskError {
	if len(t.Error) == 0 {
		return nil
	}
	var e TaskError
	if err := json.Unmarshal(t.Error, &e); err != nil {
		return nil
	}
	return &e
}

// ConfigMap decodes the request config, returning an empty map when absent.
func (t *Task) ConfigMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(t.Config) > 0 {
		_ = json.Unmarshal(t.Config, &out)
	}
	return out
}

// TaskInfo is the API view of a task.
type TaskInfo struct {
	TaskID         string                 `json:"task_id"`
	Status         TaskStatus             `json:"status"`
	Mode           EditMode               `json:"mode"`
	Progress       int                    `json:"progress"`
	CurrentStep    string                 `json:"current_step,omitempty"`
	SourceImage    string                 `json:"source_image"`
	ReferenceImage string                 `json:"reference_image,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
	CreditsUsed    int                    `json:"credits_consumed"`
	Result         *TaskResult            `json:"result,omitempty"`
	Error          *TaskError             `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	FailedAt       *time.Time             `json:"failed_at,omitempty"`
	ProcessingTime float64                `json:"processing_time,omitempty"`
}

// ToInfo converts the durable row into its API view.
func (t *Task) ToInfo() *TaskInfo {
	return &TaskInfo{
		TaskID:         t.TaskID,
		Status:         t.Status,
		Mode:           t.Mode,
		Progress:       t.Progress,
		CurrentStep:    t.CurrentStep,
		SourceImage:    t.SourceImage,
		ReferenceImage: t.ReferenceImage,
		Config:         t.ConfigMap(),
		CreditsUsed:    t.CreditsUsed,
		Result:         t.ParsedResult(),
		Error:          t.ParsedError(),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
		FailedAt:       t.FailedAt,
		ProcessingTime: t.ProcessingTime,
	}
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int   `json:"total_pages"`
}

// TaskListResponse is the payload of the listing endpoints.
type TaskListResponse struct {
	Tasks      []*TaskInfo `json:"tasks"`
	Pagination Pagination  `json:"pagination"`
}
