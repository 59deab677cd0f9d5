package handlers

import (
	"errors"
	"net/http"

	"flowplane/internal/store"
	"flowplane/pkg/api"
)

// CreateTask handles POST /api/tasks.
// When the task names an assigned workflow, an instance of it is started
// with the task id as service id. A failed start is logged; the task is
// still created.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req api.Task
	if err := decode(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		h.httpError(w, "Title is required", http.StatusBadRequest)
		return
	}

	task := store.Task(req)
	if err := h.store.CreateTask(r.Context(), nil, &task); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			h.httpError(w, "Task already exists", http.StatusConflict)
			return
		}
		h.log(r).Error("create task", "error", err)
		h.httpError(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	if task.AssignedWorkflow != "" {
		tag := TaskEngineTag
		if _, err := h.engines.Resolve(tag); err != nil {
			tag = ""
		}
		if _, msg := h.initiate(r, tag, task.AssignedWorkflow, task.ID, task.Title); msg != "" {
			h.log(r).Warn("task created but its workflow did not start",
				"task_id", task.ID, "workflow_id", task.AssignedWorkflow, "reason", msg)
		}
	}

	h.respondJson(w, http.StatusCreated, taskToAPI(task))
}

// ListTasks handles GET /api/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context(), nil)
	if err != nil {
		h.httpError(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}

	resp := make([]api.Task, len(tasks))
	for i, t := range tasks {
		resp[i] = taskToAPI(t)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetTask(r.Context(), nil, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Failed to load task", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, taskToAPI(*task))
}
