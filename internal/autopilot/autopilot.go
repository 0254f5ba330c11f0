package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/internal/text"
	"github.com/outerlook/helmsman/pkg/models"
)

// Handler auto-enqueues unblocked dependents when a task is done. This
// is the only dependent-unblock path: the merge processor marks tasks
// done and relies on the event reaching this handler.
type Handler struct{}

// NewHandler creates the autopilot dequeue handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Name implements events.Handler.
func (h *Handler) Name() string { return "autopilot" }

// ExecutionMode implements events.Handler.
func (h *Handler) ExecutionMode() events.ExecutionMode { return events.Spawned }

// Handles matches tasks reaching done.
func (h *Handler) Handles(event events.Event) bool {
	changed, ok := event.(events.TaskStatusChanged)
	return ok && changed.Task.Status == models.TaskStatusDone
}

// Handle finds newly unblocked dependents and queues them for
// execution, auto-creating workspaces where the task group allows it.
func (h *Handler) Handle(ctx context.Context, event events.Event, hctx *events.HandlerContext) error {
	changed, ok := event.(events.TaskStatusChanged)
	if !ok {
		return nil
	}
	completedTaskID := changed.Task.ID

	cfg := hctx.Config.Snapshot()
	if !cfg.AutopilotEnabled {
		return nil
	}

	unblocked, err := hctx.DB.FindUnblockedDependents(completedTaskID)
	if err != nil {
		return fmt.Errorf("find unblocked dependents: %w", err)
	}
	if len(unblocked) == 0 {
		return nil
	}

	log.Printf("[autopilot] task %s done, %d dependents unblocked", completedTaskID, len(unblocked))

	enqueued := 0
	for _, dep := range unblocked {
		workspace, isNew, ok := h.workspaceFor(hctx, dep, cfg.GitBranchPrefix)
		if !ok {
			continue
		}

		profile := cfg.ExecutorProfile
		if !isNew {
			if session, err := hctx.DB.FindLatestSessionByWorkspaceID(workspace.ID); err == nil && session.Executor != "" {
				profile = session.Executor
			}
		}

		if _, err := hctx.DB.CreateQueueEntry(workspace.ID, profile); err != nil {
			log.Printf("[autopilot] failed to enqueue task %s workspace %s: %v", dep.ID, workspace.ID, err)
			continue
		}
		log.Printf("[autopilot] enqueued task %s (workspace %s, executor %s)", dep.ID, workspace.ID, profile)
		enqueued++
	}

	if enqueued == 0 {
		return nil
	}

	if trigger := hctx.ExecutionTrigger(); trigger != nil {
		if err := trigger(ctx, events.ProcessQueueTrigger{}); err != nil {
			log.Printf("[autopilot] failed to trigger queue processing: %v", err)
		}
	}
	return nil
}

// workspaceFor finds the task's latest workspace or auto-creates one.
// Returns ok=false when the task must be skipped.
func (h *Handler) workspaceFor(hctx *events.HandlerContext, task models.Task, branchPrefix string) (models.Workspace, bool, bool) {
	workspace, err := hctx.DB.FindLatestWorkspaceByTaskID(task.ID)
	if err == nil {
		return workspace, false, true
	}
	if !errors.Is(err, state.ErrRowNotFound) {
		log.Printf("[autopilot] failed to load workspace for task %s: %v", task.ID, err)
		return models.Workspace{}, false, false
	}

	created, ok := h.createWorkspace(hctx, task, branchPrefix)
	return created, true, ok
}

// createWorkspace builds a workspace from the task group's base branch
// and the project's repos. Any missing piece skips the task silently.
func (h *Handler) createWorkspace(hctx *events.HandlerContext, task models.Task, branchPrefix string) (models.Workspace, bool) {
	if task.TaskGroupID == nil {
		log.Printf("[autopilot] task %s has no task group, skipping workspace auto-create", task.ID)
		return models.Workspace{}, false
	}

	group, err := hctx.DB.FindTaskGroupByID(*task.TaskGroupID)
	if err != nil {
		log.Printf("[autopilot] task group %s not found for task %s", *task.TaskGroupID, task.ID)
		return models.Workspace{}, false
	}
	if group.BaseBranch == nil || *group.BaseBranch == "" {
		log.Printf("[autopilot] task group %s has no base branch, skipping task %s", group.ID, task.ID)
		return models.Workspace{}, false
	}

	repos, err := hctx.DB.FindReposForProject(task.ProjectID)
	if err != nil {
		log.Printf("[autopilot] failed to load repos for project %s: %v", task.ProjectID, err)
		return models.Workspace{}, false
	}
	if len(repos) == 0 {
		log.Printf("[autopilot] project %s has no repos, skipping task %s", task.ProjectID, task.ID)
		return models.Workspace{}, false
	}

	workspaceID := uuid.New()
	workspace, err := hctx.DB.CreateWorkspace(state.CreateWorkspaceParams{
		ID:     workspaceID,
		TaskID: task.ID,
		Branch: BranchName(branchPrefix, workspaceID, task.Title),
	})
	if err != nil {
		log.Printf("[autopilot] failed to create workspace for task %s: %v", task.ID, err)
		return models.Workspace{}, false
	}

	workspaceRepos := make([]models.WorkspaceRepo, 0, len(repos))
	for _, r := range repos {
		workspaceRepos = append(workspaceRepos, models.WorkspaceRepo{
			RepoID:       r.ID,
			TargetBranch: *group.BaseBranch,
		})
	}
	if err := hctx.DB.CreateWorkspaceRepos(workspace.ID, workspaceRepos); err != nil {
		// The workspace row stays in place; without repo mappings the
		// attempt cannot run, so the task is skipped.
		log.Printf("[autopilot] failed to create workspace repos for task %s: %v", task.ID, err)
		return models.Workspace{}, false
	}

	log.Printf("[autopilot] auto-created workspace %s (branch %s) for task %s",
		workspace.ID, workspace.Branch, task.ID)
	return workspace, true
}

// BranchName generates the git branch for a workspace from the
// configured prefix, the short workspace id, and a slug of the title.
func BranchName(prefix string, workspaceID uuid.UUID, title string) string {
	slug := text.GitBranchSlug(title)
	short := text.ShortUUID(workspaceID)
	if prefix == "" {
		return short + "-" + slug
	}
	return prefix + "/" + short + "-" + slug
}
