package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// transcriptTailLimit bounds how much of a transcript is embedded in
// synthesized healer and optimizer prompts.
const transcriptTailLimit = 20

// resolveHealing applies the healing-enabled precedence: explicit task
// option, then the owning schedule's flag, then the system-wide default.
func (o *Orchestrator) resolveHealing(ctx context.Context, task *domain.Task) bool {
	if v, ok := task.OptionBool("self_healing"); ok {
		return v
	}
	if stID := task.ScheduledTaskID(); stID != "" && o.sched != nil {
		if st, err := o.sched.Get(ctx, stID); err == nil && st.SelfHealing != nil {
			return *st.SelfHealing
		}
	}
	return o.selfHealing
}

// maybeHeal spawns a bounded retry task after a failure. The retry budget
// is the system default unless the task carries a max_retries option.
// Healer and optimizer tasks never spawn further healers, so synthesized
// work cannot loop on itself.
func (o *Orchestrator) maybeHeal(ctx context.Context, task *domain.Task, errMsg string) {
	if task.Source.Synthetic() {
		return
	}
	if !o.resolveHealing(ctx, task) {
		return
	}
	maxRetries := o.maxRetries
	if v, ok := task.OptionInt("max_retries"); ok && v >= 0 {
		maxRetries = v
	}
	if task.RetryNumber >= maxRetries {
		o.logger.Info("healing retries exhausted",
			slog.String("task_id", task.ID),
			slog.Int("retry_number", task.RetryNumber),
		)
		return
	}

	healer := &domain.Task{
		ID:          uuid.New().String(),
		Prompt:      buildHealerPrompt(task, errMsg),
		Options:     task.Options,
		Status:      domain.TaskPending,
		Source:      domain.SourceHealer,
		RetryNumber: task.RetryNumber + 1,
		SourceMetadata: map[string]any{
			"origin_task_id": task.ID,
		},
	}
	if stID := task.ScheduledTaskID(); stID != "" {
		healer.SourceMetadata["scheduled_task_id"] = stID
	}

	if err := o.tm.Create(ctx, healer); err != nil {
		o.logger.Error("create healer task",
			slog.String("origin_task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.HealingRunsTotal.Inc()
	o.publishUI(ctx, "task.healing", map[string]string{
		"origin_task_id": task.ID,
		"healer_task_id": healer.ID,
	})
	o.logger.Info("healer task created",
		slog.String("origin_task_id", task.ID),
		slog.String("healer_task_id", healer.ID),
		slog.Int("retry_number", healer.RetryNumber),
	)

	if _, _, err := o.Delegate(ctx, healer); err != nil {
		o.logger.Error("delegate healer task",
			slog.String("healer_task_id", healer.ID),
			slog.String("error", err.Error()),
		)
	}
}

// maybeLearn spawns an optimizer task after a scheduler-sourced completion
// when the owning schedule asked for self-learning and its budget is not
// spent. The learning counter is incremented only once the optimizer task
// was actually created.
func (o *Orchestrator) maybeLearn(ctx context.Context, task *domain.Task) {
	if task.Source != domain.SourceScheduler || o.sched == nil {
		return
	}
	stID := task.ScheduledTaskID()
	if stID == "" {
		return
	}
	st, err := o.sched.Get(ctx, stID)
	if err != nil {
		return
	}
	if !st.SelfLearning || st.LearningExhausted() {
		return
	}

	optimizer := &domain.Task{
		ID:     uuid.New().String(),
		Prompt: buildOptimizerPrompt(st.Prompt, task),
		Status: domain.TaskPending,
		Source: domain.SourceOptimizer,
		SourceMetadata: map[string]any{
			"scheduled_task_id": stID,
			"origin_task_id":    task.ID,
		},
	}
	if err := o.tm.Create(ctx, optimizer); err != nil {
		o.logger.Error("create optimizer task",
			slog.String("schedule_id", stID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := o.sched.RecordLearningRun(ctx, stID); err != nil {
		o.logger.Error("record learning run",
			slog.String("schedule_id", stID),
			slog.String("error", err.Error()),
		)
	}
	telemetry.LearningRunsTotal.Inc()
	o.publishUI(ctx, "task.learning", map[string]string{
		"schedule_id":       stID,
		"optimizer_task_id": optimizer.ID,
	})
	o.logger.Info("optimizer task created",
		slog.String("schedule_id", stID),
		slog.String("optimizer_task_id", optimizer.ID),
	)

	if _, _, err := o.Delegate(ctx, optimizer); err != nil {
		o.logger.Error("delegate optimizer task",
			slog.String("optimizer_task_id", optimizer.ID),
			slog.String("error", err.Error()),
		)
	}
}

func buildHealerPrompt(task *domain.Task, errMsg string) string {
	var b strings.Builder
	b.WriteString("A previous attempt at the following task failed. Review the error and the transcript, then complete the task.\n\n")
	fmt.Fprintf(&b, "Original task:\n%s\n\nError:\n%s\n", task.Prompt, errMsg)
	if tail := transcriptTail(task.Messages); tail != "" {
		b.WriteString("\nTranscript of the failed attempt:\n")
		b.WriteString(tail)
	}
	return b.String()
}

func buildOptimizerPrompt(currentPrompt string, task *domain.Task) string {
	var b strings.Builder
	b.WriteString("Review this recurring task's prompt against its latest execution and propose a revised prompt that would produce better results. Use the schedule-update tool to apply it.\n\n")
	fmt.Fprintf(&b, "Current prompt:\n%s\n", currentPrompt)
	if task.Result != "" {
		fmt.Fprintf(&b, "\nLatest result:\n%s\n", task.Result)
	}
	if tail := transcriptTail(task.Messages); tail != "" {
		b.WriteString("\nExecution transcript:\n")
		b.WriteString(tail)
	}
	return b.String()
}

// transcriptTail renders the last entries of a transcript, oldest first.
func transcriptTail(messages []domain.TaskMessage) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) > transcriptTailLimit {
		messages = messages[len(messages)-transcriptTailLimit:]
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}
