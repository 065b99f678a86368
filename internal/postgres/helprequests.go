package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

// HelpRequestRepository persists help requests for audit. The manager's
// in-memory map stays authoritative for pending state; rows are upserted on
// every transition.
type HelpRequestRepository struct {
	pool *pgxpool.Pool
}

func NewHelpRequestRepository(pool *pgxpool.Pool) *HelpRequestRepository {
	return &HelpRequestRepository{pool: pool}
}

func (r *HelpRequestRepository) Save(ctx context.Context, req *domain.HelpRequest) error {
	questions, err := json.Marshal(req.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions for help request %s: %w", req.ID, err)
	}
	answers, err := json.Marshal(req.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers for help request %s: %w", req.ID, err)
	}
	var channelRef []byte
	if req.ChannelRef != nil {
		channelRef, err = json.Marshal(req.ChannelRef)
		if err != nil {
			return fmt.Errorf("marshal channel ref for help request %s: %w", req.ID, err)
		}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO help_requests
			(id, executor_id, task_id, questions, status, answers,
			 response_source, channel_ref, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			answers = EXCLUDED.answers,
			response_source = EXCLUDED.response_source,
			channel_ref = EXCLUDED.channel_ref,
			resolved_at = EXCLUDED.resolved_at
	`,
		req.ID, req.ExecutorID, req.TaskID, questions, string(req.Status),
		answers, req.ResponseSource, channelRef, req.CreatedAt, req.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save help request %s: %w", req.ID, err)
	}
	return nil
}

func (r *HelpRequestRepository) List(ctx context.Context, limit int) ([]*domain.HelpRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, executor_id, task_id, questions, status, answers,
		       response_source, channel_ref, created_at, resolved_at
		FROM help_requests
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.HelpRequest
	for rows.Next() {
		var (
			req                            domain.HelpRequest
			statusStr                      string
			questions, answers, channelRef []byte
		)
		if err := rows.Scan(
			&req.ID, &req.ExecutorID, &req.TaskID, &questions, &statusStr,
			&answers, &req.ResponseSource, &channelRef, &req.CreatedAt, &req.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan help request: %w", err)
		}
		req.Status = domain.HelpRequestStatus(statusStr)
		if len(questions) > 0 {
			if err := json.Unmarshal(questions, &req.Questions); err != nil {
				return nil, fmt.Errorf("unmarshal questions for %s: %w", req.ID, err)
			}
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &req.Answers); err != nil {
				return nil, fmt.Errorf("unmarshal answers for %s: %w", req.ID, err)
			}
		}
		if len(channelRef) > 0 {
			if err := json.Unmarshal(channelRef, &req.ChannelRef); err != nil {
				return nil, fmt.Errorf("unmarshal channel ref for %s: %w", req.ID, err)
			}
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}
