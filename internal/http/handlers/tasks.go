package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidpace/internal/scheduler"
)

// TaskRunner is the scheduler surface used by the API.
type TaskRunner interface {
	Status() []scheduler.TaskStatus
	RunNow(name string) error
}

// TaskHandler exposes scheduled tasks.
type TaskHandler struct {
	tasks TaskRunner
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks TaskRunner) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List scheduled tasks",
		Description: "Returns the scheduled tasks with their last and next run",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "runTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{name}/run",
		Summary:     "Run task now",
		Description: "Runs a scheduled task immediately and waits for it to finish",
		Tags:        []string{"Tasks"},
	}, h.Run)
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct{}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []scheduler.TaskStatus `json:"tasks"`
	}
}

// List returns the scheduled tasks.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	resp := &ListTasksOutput{}
	resp.Body.Tasks = h.tasks.Status()
	if resp.Body.Tasks == nil {
		resp.Body.Tasks = []scheduler.TaskStatus{}
	}
	return resp, nil
}

// RunTaskInput identifies a task.
type RunTaskInput struct {
	Name string `path:"name" doc:"Task name"`
}

// RunTaskOutput is the output for running a task.
type RunTaskOutput struct {
	Body struct {
		Task    string `json:"task"`
		Message string `json:"message"`
	}
}

// Run executes a task immediately.
func (h *TaskHandler) Run(ctx context.Context, input *RunTaskInput) (*RunTaskOutput, error) {
	err := h.tasks.RunNow(input.Name)
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("task %s not found", input.Name))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("task %s failed", input.Name), err)
	}

	resp := &RunTaskOutput{}
	resp.Body.Task = input.Name
	resp.Body.Message = "task completed"
	return resp, nil
}
