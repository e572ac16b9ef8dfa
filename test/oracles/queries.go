package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty at any instant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_processing_state_consistent",
			SQL: `SELECT id, processing_status, processed_by, modal_type FROM requests
                  WHERE (processing_status = 'in_progress' AND (processed_by IS NULL OR modal_type = 'none'))
                     OR (processing_status = 'idle' AND (processed_by IS NOT NULL OR modal_type <> 'none'))`,
		},
		{
			Name: "O2_paid_within_amount",
			SQL:  `SELECT id, amount, paid_amount FROM requests WHERE paid_amount < 0 OR paid_amount > amount`,
		},
		{
			Name: "O3_completed_fully_paid",
			SQL: `SELECT id, amount, paid_amount FROM requests
                  WHERE business_status = 'completed' AND paid_amount <> amount`,
		},
		{
			Name: "O4_partial_status_matches_payment",
			SQL: `SELECT id, business_status, paid_amount FROM requests
                  WHERE (business_status = 'queued_partially_paid' AND (paid_amount = 0 OR paid_amount >= amount))
                     OR (business_status IN ('pending', 'verification_pending', 'queued') AND paid_amount <> 0)`,
		},
		{
			Name: "O5_status_matches_kind",
			SQL: `SELECT id, kind, business_status FROM requests
                  WHERE (kind = 'disputed' AND business_status NOT IN ('disputed', 'resolved', 'rejected'))
                     OR (kind = 'redeem' AND business_status IN ('disputed', 'resolved'))`,
		},
		{
			Name: "O6_payment_audited",
			SQL: `SELECT r.id FROM requests r
                  WHERE r.paid_amount > 0
                    AND NOT EXISTS (SELECT 1 FROM activity_logs a WHERE a.request_id = r.id AND a.action = 'request.pay')`,
		},
		{
			Name: "O7_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '2 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
