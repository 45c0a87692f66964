package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a task's latest state in a transport-friendly format.
type Task struct {
	ID           string   `json:"id"`
	Owner        string   `json:"owner"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	LogRef       string   `json:"logRef,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// TaskEvent is one recorded status change.
type TaskEvent struct {
	Seq          int64  `json:"seq"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task and, when requested, its history.
type TaskResponse struct {
	Task    Task        `json:"task"`
	History []TaskEvent `json:"history,omitempty"`
}

// SubmitVideoRequest is the JSON body of a video submission.
type SubmitVideoRequest struct {
	URL       string `json:"url"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id,omitempty"`
	// Wait holds the response until the task finishes.
	Wait bool `json:"wait,omitempty"`
}

// SubmitResponse acknowledges an accepted task. Artifacts and Error are only
// populated for waited submissions.
type SubmitResponse struct {
	TaskID    string   `json:"taskId"`
	Status    string   `json:"status"`
	Artifacts []string `json:"artifacts,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// CancelResponse reports whether a cancellation reached a queued job.
type CancelResponse struct {
	TaskID    string `json:"taskId"`
	Cancelled bool   `json:"cancelled"`
}

// QueueStatus mirrors one job queue's counters.
type QueueStatus struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Capacity  int    `json:"capacity"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// LockStatus reports the GPU lock backend and its holder.
type LockStatus struct {
	Backend    string `json:"backend"`
	Held       bool   `json:"held"`
	Holder     string `json:"holder,omitempty"`
	HolderPID  int    `json:"holderPid,omitempty"`
	HolderHost string `json:"holderHost,omitempty"`
	AcquiredAt string `json:"acquiredAt,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	LastError  string         `json:"lastError,omitempty"`
	Queues     []QueueStatus  `json:"queues"`
	TaskCounts map[string]int `json:"taskCounts"`
	Lock       LockStatus     `json:"lock"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
