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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_negative_balances",
			SQL: `SELECT id, reversible, non_reversible FROM wallets
                  WHERE reversible < 0 OR non_reversible < 0`,
		},
		{
			Name: "O2_single_open_dispute_per_tx",
			SQL: `SELECT transaction_id, COUNT(*) FROM disputes
                  WHERE verdict = 'pending'
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_verdict_ledger_consistency",
			SQL: `WITH latest AS (
                      SELECT DISTINCT ON (transaction_id) id, transaction_id, verdict
                      FROM disputes ORDER BY transaction_id, created_at DESC, id DESC)
                  SELECT l.id, l.verdict, t.state FROM latest l
                  JOIN transactions t ON t.id = l.transaction_id
                  WHERE (l.verdict = 'approved' AND t.state <> 'reversed')
                     OR (l.verdict = 'rejected' AND t.state <> 'completed')`,
		},
		{
			Name: "O4_disputed_tx_has_open_dispute",
			SQL: `SELECT t.id FROM transactions t
                  WHERE t.state = 'disputed'
                    AND NOT EXISTS (
                        SELECT 1 FROM disputes d
                        WHERE d.transaction_id = t.id AND d.verdict = 'pending')`,
		},
		{
			Name: "O5_resolved_at_matches_verdict",
			SQL: `SELECT id, verdict, resolved_at FROM disputes
                  WHERE (verdict = 'pending' AND resolved_at IS NOT NULL)
                     OR (verdict <> 'pending' AND resolved_at IS NULL)`,
		},
		{
			Name: "O6_ballots_from_eligible_judges",
			SQL: `SELECT b.dispute_id, b.judge_wallet FROM ballots b
                  WHERE NOT EXISTS (SELECT 1 FROM judges j WHERE j.wallet_id = b.judge_wallet)
                     OR EXISTS (
                        SELECT 1 FROM disputes d
                        JOIN transactions t ON t.id = d.transaction_id
                        WHERE d.id = b.dispute_id
                          AND b.judge_wallet IN (t.sender_wallet, t.receiver_wallet))`,
		},
		{
			Name: "O7_supply_conserved",
			SQL: `SELECT live.total, seed.total_supply
                  FROM (SELECT COALESCE(SUM(reversible + non_reversible), 0) AS total FROM wallets) live,
                       stress_seed seed
                  WHERE live.total <> seed.total_supply`,
		},
		{
			Name: "O8_settled_only_when_terminal",
			SQL: `SELECT id, state, settled_at FROM transactions
                  WHERE settled_at IS NOT NULL AND state = 'pending'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
