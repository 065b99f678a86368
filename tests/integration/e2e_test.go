//go:build integration

// Package integration contains end-to-end integration tests that require
// real infrastructure (Kafka, Redis, PostgreSQL) provided by testcontainers-go.
//
// Run with: go test -tags=integration -v ./tests/integration/
package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byt3bl33d3r/figaro-sub000/internal/bus"
	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/internal/postgres"
	redisstore "github.com/byt3bl33d3r/figaro-sub000/internal/redis"
)

// TestE2E_FullTaskLifecycle exercises the delegation pipeline against real
// infrastructure, with the executor side simulated inline.
//
// Flow: create task in Postgres + Redis → publish AssignCommand → executor
// consumes, works, emits a terminal TaskEvent → control plane consumes the
// event and records COMPLETED in both stores.
func TestE2E_FullTaskLifecycle(t *testing.T) {
	ctx := context.Background()

	// ── Infrastructure setup ─────────────────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		redisClient.FlushDB(ctx) //nolint:errcheck
		redisClient.Close()      //nolint:errcheck
	})

	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE tasks CASCADE") //nolint:errcheck
		pool.Close()
	})

	store := redisstore.NewStateStore(redisClient)
	repo := postgres.NewTaskRepository(pool)

	producer := bus.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	// Use unique topics to avoid interference with kafka_test.go tests.
	assignTopic := uniqueTopic("e2e-assign")
	eventsTopic := uniqueTopic("e2e-events")
	createTopic(t, assignTopic)
	createTopic(t, eventsTopic)

	// ── Step 1: intake — create the task and delegate it ─────────────────────
	taskID := uuid.New().String()
	task := &domain.Task{
		ID:        taskID,
		Prompt:    "tidy the downloads folder",
		Status:    domain.TaskAssigned,
		Source:    domain.SourceAPI,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, store.SetStatus(ctx, taskID, domain.TaskAssigned))

	cmd := bus.AssignCommand{
		Kind:          bus.AssignCmdTask,
		CorrelationID: uuid.New().String(),
		ExecutorID:    "e2e-exec-1",
		Task:          task,
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, producer.Publish(ctx, assignTopic, cmd.ExecutorID, raw))

	// ── Step 2: executor — consume the assignment, work, emit events ─────────
	execConsumer := bus.NewConsumer(testKafkaBrokers, assignTopic, "e2e-exec", slog.Default())
	t.Cleanup(func() { execConsumer.Close() }) //nolint:errcheck

	execCtx, execCancel := context.WithTimeout(ctx, 30*time.Second)
	defer execCancel()

	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		execConsumer.Subscribe(execCtx, func(_ context.Context, msg bus.Message) error { //nolint:errcheck
			var got bus.AssignCommand
			if err := json.Unmarshal(msg.Value, &got); err != nil || got.Task == nil {
				return nil // discard malformed
			}

			store.SetStatus(execCtx, got.Task.ID, domain.TaskRunning) //nolint:errcheck

			events := []bus.TaskEvent{
				{Kind: bus.TaskEventMessage, TaskID: got.Task.ID, ExecutorID: got.ExecutorID, Role: "assistant", Content: "sorting files"},
				{Kind: bus.TaskEventComplete, TaskID: got.Task.ID, ExecutorID: got.ExecutorID, Result: "moved 12 files"},
			}
			for _, ev := range events {
				payload, _ := json.Marshal(ev)
				if err := producer.Publish(execCtx, eventsTopic, ev.TaskID, payload); err != nil {
					return err // non-nil → offset not committed → retry
				}
			}
			execCancel()
			return nil
		})
	}()
	<-execDone

	status, err := store.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, status, "executor should set status to RUNNING")

	// ── Step 3: control plane — consume events, persist the outcome ──────────
	cpConsumer := bus.NewConsumer(testKafkaBrokers, eventsTopic, "e2e-cp", slog.Default())
	t.Cleanup(func() { cpConsumer.Close() }) //nolint:errcheck

	cpCtx, cpCancel := context.WithTimeout(ctx, 30*time.Second)
	defer cpCancel()

	cpDone := make(chan struct{})
	go func() {
		defer close(cpDone)
		cpConsumer.Subscribe(cpCtx, func(_ context.Context, msg bus.Message) error { //nolint:errcheck
			var ev bus.TaskEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				return nil
			}
			switch ev.Kind {
			case bus.TaskEventMessage:
				repo.AppendMessage(cpCtx, ev.TaskID, domain.TaskMessage{ //nolint:errcheck
					Role:      ev.Role,
					Content:   ev.Content,
					Timestamp: time.Now().UTC(),
				})
			case bus.TaskEventComplete:
				repo.UpdateStatus(cpCtx, ev.TaskID, domain.TaskCompleted, ev.Result) //nolint:errcheck
				store.SetStatus(cpCtx, ev.TaskID, domain.TaskCompleted)              //nolint:errcheck
				store.SetResult(cpCtx, ev.TaskID, []byte(ev.Result), 0)              //nolint:errcheck
				cpCancel()
			}
			return nil
		})
	}()
	<-cpDone

	// ── Assertions ────────────────────────────────────────────────────────────
	finalStatus, err := store.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, finalStatus, "Redis should show COMPLETED")

	result, err := store.GetResult(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, []byte("moved 12 files"), result)

	finalTask, err := repo.GetByID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, finalTask.Status, "Postgres should show COMPLETED")
	assert.Equal(t, "moved 12 files", finalTask.Result)
	require.Len(t, finalTask.Messages, 1)
	assert.Equal(t, "sorting files", finalTask.Messages[0].Content)
}
