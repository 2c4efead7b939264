package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// EntityStore projects committed mutation sets into PostgreSQL and rebuilds
// the in-memory repository from them on startup. It never participates in
// event application; the in-memory repository stays authoritative.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates an EntityStore backed by the given connection pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// ApplyMutations writes one event's dirty entities and the checkpoint in a
// single transaction, in foreign-key order.
func (s *EntityStore) ApplyMutations(ctx context.Context, muts *repo.Mutations, pos domain.EventPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin mutation tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	queueMutations(batch, muts)
	batch.Queue(`
		INSERT INTO ingest_checkpoint (id, block_number, tx_index, log_index)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			tx_index     = EXCLUDED.tx_index,
			log_index    = EXCLUDED.log_index`,
		pos.BlockNumber, pos.TxIndex, pos.LogIndex,
	)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: mutation batch item %d at %s: %w", i, pos, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close mutation batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit mutations at %s: %w", pos, err)
	}
	return nil
}

func queueMutations(batch *pgx.Batch, muts *repo.Mutations) {
	for _, t := range muts.PaymentTokens {
		batch.Queue(`
			INSERT INTO payment_tokens (id, address, name, symbol, decimals)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.Address.Hex(), t.Name, t.Symbol, int16(t.Decimals),
		)
	}
	for _, u := range muts.Users {
		batch.Queue(`
			INSERT INTO users (id, concurrent_virtual_floors, max_concurrent_virtual_floors)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				concurrent_virtual_floors     = EXCLUDED.concurrent_virtual_floors,
				max_concurrent_virtual_floors = EXCLUDED.max_concurrent_virtual_floors`,
			u.ID, u.ConcurrentVirtualFloors, u.MaxConcurrentVirtualFloors,
		)
	}
	for _, c := range muts.Categories {
		batch.Queue(`
			INSERT INTO categories (id, slug) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.Slug,
		)
	}
	for _, sc := range muts.Subcategories {
		batch.Queue(`
			INSERT INTO subcategories (id, category, slug) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			sc.ID, sc.Category, sc.Slug,
		)
	}
	for _, vf := range muts.VirtualFloors {
		var winnerProfits *string
		if vf.WinnerProfits != nil {
			s := vf.WinnerProfits.String()
			winnerProfits = &s
		}
		batch.Queue(`
			INSERT INTO virtual_floors (
				id, int_id, subcategory, title, description, is_listed, discord_channel_id,
				owner_id, payment_token,
				beta_open, creation_fee_rate, platform_fee_rate,
				t_created, t_open, t_close, t_resolve,
				t_result_set_min, t_result_set_max, t_result_challenge_max,
				state, winning_outcome, winner_profits, flagging_reason, challenger,
				outcome_count, bonus_amount, min_commitment_amount, max_commitment_amount,
				total_supply
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9,
				$10, $11, $12,
				$13, $14, $15, $16,
				$17, $18, $19,
				$20, $21, $22, $23, $24,
				$25, $26, $27, $28,
				$29
			)
			ON CONFLICT (id) DO UPDATE SET
				t_result_challenge_max = EXCLUDED.t_result_challenge_max,
				state                  = EXCLUDED.state,
				winning_outcome        = EXCLUDED.winning_outcome,
				winner_profits         = EXCLUDED.winner_profits,
				flagging_reason        = EXCLUDED.flagging_reason,
				challenger             = EXCLUDED.challenger,
				total_supply           = EXCLUDED.total_supply`,
			vf.ID, vf.IntID.String(), vf.Subcategory, vf.Title, vf.Description, vf.IsListed, vf.DiscordChannelID,
			vf.Owner, vf.PaymentToken,
			vf.BetaOpen.String(), vf.CreationFeeRate.String(), vf.PlatformFeeRate.String(),
			vf.TCreated, vf.TOpen, vf.TClose, vf.TResolve,
			vf.TResultSetMin, vf.TResultSetMax, vf.TResultChallengeMax,
			string(vf.State), vf.WinningOutcome, winnerProfits, vf.FlaggingReason, vf.Challenger,
			vf.OutcomeCount, vf.BonusAmount.String(), vf.MinCommitmentAmount.String(), vf.MaxCommitmentAmount.String(),
			vf.TotalSupply.String(),
		)
	}
	for _, o := range muts.Outcomes {
		batch.Queue(`
			INSERT INTO outcomes (id, virtual_floor, title, outcome_index, total_supply, total_weighted_supply)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				total_supply          = EXCLUDED.total_supply,
				total_weighted_supply = EXCLUDED.total_weighted_supply`,
			o.ID, o.VirtualFloor, o.Title, o.Index, o.TotalSupply.String(), o.TotalWeightedSupply.String(),
		)
	}
	for _, o := range muts.Opponents {
		batch.Queue(`
			INSERT INTO opponents (id, virtual_floor, title, image)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, o.VirtualFloor, o.Title, o.Image,
		)
	}
	for _, r := range muts.ResultSources {
		batch.Queue(`
			INSERT INTO result_sources (id, virtual_floor, title, url)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.VirtualFloor, r.Title, r.URL,
		)
	}
	for _, ots := range muts.OutcomeTimeslots {
		batch.Queue(`
			INSERT INTO outcome_timeslots (id, outcome, timeslot, token_id, beta, total_supply)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				total_supply = EXCLUDED.total_supply`,
			ots.ID, ots.Outcome, ots.Timeslot, ots.TokenID.String(), ots.Beta.String(), ots.TotalSupply.String(),
		)
	}
	for _, uo := range muts.UserOutcomes {
		batch.Queue(`
			INSERT INTO user_outcomes (id, user_id, outcome, total_balance, total_weighted_balance)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				total_balance          = EXCLUDED.total_balance,
				total_weighted_balance = EXCLUDED.total_weighted_balance`,
			uo.ID, uo.User, uo.Outcome, uo.TotalBalance.String(), uo.TotalWeightedBalance.String(),
		)
	}
	for _, uots := range muts.UserOutcomeTimeslots {
		batch.Queue(`
			INSERT INTO user_outcome_timeslots (id, user_id, outcome, timeslot, user_outcome, outcome_timeslot, balance)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				balance = EXCLUDED.balance`,
			uots.ID, uots.User, uots.Outcome, uots.Timeslot, uots.UserOutcome, uots.OutcomeTimeslot, uots.Balance.String(),
		)
	}
	for _, tr := range muts.Transfers {
		batch.Queue(`
			INSERT INTO outcome_timeslot_transfers (id, outcome_timeslot, from_user, to_user, block_timestamp, amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			tr.ID, tr.OutcomeTimeslot, tr.From, tr.To, tr.Timestamp, tr.Amount.String(),
		)
	}
	for _, agg := range muts.Aggregates {
		batch.Queue(`
			INSERT INTO virtual_floors_aggregates (id, total_virtual_floors_created)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET
				total_virtual_floors_created = EXCLUDED.total_virtual_floors_created`,
			agg.ID, agg.TotalVirtualFloorsCreated,
		)
	}
}

// LoadCheckpoint returns the position of the last projected event, or nil if
// the projection is empty.
func (s *EntityStore) LoadCheckpoint(ctx context.Context) (*domain.EventPosition, error) {
	var pos domain.EventPosition
	err := s.pool.QueryRow(ctx,
		`SELECT block_number, tx_index, log_index FROM ingest_checkpoint WHERE id = 1`,
	).Scan(&pos.BlockNumber, &pos.TxIndex, &pos.LogIndex)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load checkpoint: %w", err)
	}
	return &pos, nil
}

// LoadAll rebuilds the full entity state from the projection, together with
// the checkpoint to resume after.
func (s *EntityStore) LoadAll(ctx context.Context) (*repo.State, *domain.EventPosition, error) {
	pos, err := s.LoadCheckpoint(ctx)
	if err != nil {
		return nil, nil, err
	}
	state := repo.NewState()
	if pos == nil {
		return state, nil, nil
	}

	if err := s.loadPaymentTokens(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadUsers(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadCategories(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadVirtualFloors(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadOutcomes(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadOutcomeTimeslots(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadUserPositions(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadTransfers(ctx, state); err != nil {
		return nil, nil, err
	}
	if err := s.loadAggregates(ctx, state); err != nil {
		return nil, nil, err
	}
	return state, pos, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid integer %q", s)
	}
	return n, nil
}

func (s *EntityStore) loadPaymentTokens(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `SELECT id, address, name, symbol, decimals FROM payment_tokens`)
	if err != nil {
		return fmt.Errorf("postgres: load payment tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.PaymentToken
		var address string
		var decimals int16
		if err := rows.Scan(&t.ID, &address, &t.Name, &t.Symbol, &decimals); err != nil {
			return fmt.Errorf("postgres: scan payment token: %w", err)
		}
		t.Address = common.HexToAddress(address)
		t.Decimals = uint8(decimals)
		state.PaymentTokens.Restore(t)
	}
	return rows.Err()
}

func (s *EntityStore) loadUsers(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, concurrent_virtual_floors, max_concurrent_virtual_floors FROM users`)
	if err != nil {
		return fmt.Errorf("postgres: load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.ConcurrentVirtualFloors, &u.MaxConcurrentVirtualFloors); err != nil {
			return fmt.Errorf("postgres: scan user: %w", err)
		}
		state.Users.Restore(u)
	}
	return rows.Err()
}

func (s *EntityStore) loadCategories(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `SELECT id, slug FROM categories`)
	if err != nil {
		return fmt.Errorf("postgres: load categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Slug); err != nil {
			return fmt.Errorf("postgres: scan category: %w", err)
		}
		state.Categories.Restore(c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `SELECT id, category, slug FROM subcategories`)
	if err != nil {
		return fmt.Errorf("postgres: load subcategories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc domain.Subcategory
		if err := rows.Scan(&sc.ID, &sc.Category, &sc.Slug); err != nil {
			return fmt.Errorf("postgres: scan subcategory: %w", err)
		}
		state.Subcategories.Restore(sc)
	}
	return rows.Err()
}

func (s *EntityStore) loadVirtualFloors(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, int_id::text, subcategory, title, description, is_listed, discord_channel_id,
		       owner_id, payment_token,
		       beta_open::text, creation_fee_rate::text, platform_fee_rate::text,
		       t_created, t_open, t_close, t_resolve,
		       t_result_set_min, t_result_set_max, t_result_challenge_max,
		       state, winning_outcome, winner_profits::text, flagging_reason, challenger,
		       outcome_count, bonus_amount::text, min_commitment_amount::text, max_commitment_amount::text,
		       total_supply::text
		FROM virtual_floors`)
	if err != nil {
		return fmt.Errorf("postgres: load virtual floors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vf domain.VirtualFloor
		var intID, betaOpen, creationFee, platformFee string
		var vfState string
		var winnerProfits *string
		var bonus, minC, maxC, totalSupply string
		if err := rows.Scan(
			&vf.ID, &intID, &vf.Subcategory, &vf.Title, &vf.Description, &vf.IsListed, &vf.DiscordChannelID,
			&vf.Owner, &vf.PaymentToken,
			&betaOpen, &creationFee, &platformFee,
			&vf.TCreated, &vf.TOpen, &vf.TClose, &vf.TResolve,
			&vf.TResultSetMin, &vf.TResultSetMax, &vf.TResultChallengeMax,
			&vfState, &vf.WinningOutcome, &winnerProfits, &vf.FlaggingReason, &vf.Challenger,
			&vf.OutcomeCount, &bonus, &minC, &maxC,
			&totalSupply,
		); err != nil {
			return fmt.Errorf("postgres: scan virtual floor: %w", err)
		}

		if vf.IntID, err = parseBigInt(intID); err != nil {
			return err
		}
		fields := []struct {
			raw string
			dst *decimal.Decimal
		}{
			{betaOpen, &vf.BetaOpen},
			{creationFee, &vf.CreationFeeRate},
			{platformFee, &vf.PlatformFeeRate},
			{bonus, &vf.BonusAmount},
			{minC, &vf.MinCommitmentAmount},
			{maxC, &vf.MaxCommitmentAmount},
			{totalSupply, &vf.TotalSupply},
		}
		for _, f := range fields {
			if *f.dst, err = parseDecimal(f.raw); err != nil {
				return fmt.Errorf("postgres: virtual floor %s: %w", vf.ID, err)
			}
		}
		if winnerProfits != nil {
			wp, err := parseDecimal(*winnerProfits)
			if err != nil {
				return fmt.Errorf("postgres: virtual floor %s: %w", vf.ID, err)
			}
			vf.WinnerProfits = &wp
		}
		vf.State = domain.VirtualFloorState(vfState)
		state.VirtualFloors.Restore(vf)
	}
	return rows.Err()
}

func (s *EntityStore) loadOutcomes(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, virtual_floor, title, outcome_index, total_supply::text, total_weighted_supply::text
		FROM outcomes`)
	if err != nil {
		return fmt.Errorf("postgres: load outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o domain.Outcome
		var supply, weighted string
		if err := rows.Scan(&o.ID, &o.VirtualFloor, &o.Title, &o.Index, &supply, &weighted); err != nil {
			return fmt.Errorf("postgres: scan outcome: %w", err)
		}
		if o.TotalSupply, err = parseDecimal(supply); err != nil {
			return err
		}
		if o.TotalWeightedSupply, err = parseDecimal(weighted); err != nil {
			return err
		}
		state.Outcomes.Restore(o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `SELECT id, virtual_floor, title, image FROM opponents`)
	if err != nil {
		return fmt.Errorf("postgres: load opponents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o domain.Opponent
		if err := rows.Scan(&o.ID, &o.VirtualFloor, &o.Title, &o.Image); err != nil {
			return fmt.Errorf("postgres: scan opponent: %w", err)
		}
		state.Opponents.Restore(o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `SELECT id, virtual_floor, title, url FROM result_sources`)
	if err != nil {
		return fmt.Errorf("postgres: load result sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.ResultSource
		if err := rows.Scan(&r.ID, &r.VirtualFloor, &r.Title, &r.URL); err != nil {
			return fmt.Errorf("postgres: scan result source: %w", err)
		}
		state.ResultSources.Restore(r)
	}
	return rows.Err()
}

func (s *EntityStore) loadOutcomeTimeslots(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, outcome, timeslot, token_id::text, beta::text, total_supply::text
		FROM outcome_timeslots`)
	if err != nil {
		return fmt.Errorf("postgres: load outcome timeslots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ots domain.OutcomeTimeslot
		var tokenID, beta, supply string
		if err := rows.Scan(&ots.ID, &ots.Outcome, &ots.Timeslot, &tokenID, &beta, &supply); err != nil {
			return fmt.Errorf("postgres: scan outcome timeslot: %w", err)
		}
		if ots.TokenID, err = parseBigInt(tokenID); err != nil {
			return err
		}
		if ots.Beta, err = parseDecimal(beta); err != nil {
			return err
		}
		if ots.TotalSupply, err = parseDecimal(supply); err != nil {
			return err
		}
		state.OutcomeTimeslots.Restore(ots)
	}
	return rows.Err()
}

func (s *EntityStore) loadUserPositions(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, outcome, total_balance::text, total_weighted_balance::text
		FROM user_outcomes`)
	if err != nil {
		return fmt.Errorf("postgres: load user outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uo domain.UserOutcome
		var balance, weighted string
		if err := rows.Scan(&uo.ID, &uo.User, &uo.Outcome, &balance, &weighted); err != nil {
			return fmt.Errorf("postgres: scan user outcome: %w", err)
		}
		if uo.TotalBalance, err = parseDecimal(balance); err != nil {
			return err
		}
		if uo.TotalWeightedBalance, err = parseDecimal(weighted); err != nil {
			return err
		}
		state.UserOutcomes.Restore(uo)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, user_id, outcome, timeslot, user_outcome, outcome_timeslot, balance::text
		FROM user_outcome_timeslots`)
	if err != nil {
		return fmt.Errorf("postgres: load user outcome timeslots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uots domain.UserOutcomeTimeslot
		var balance string
		if err := rows.Scan(&uots.ID, &uots.User, &uots.Outcome, &uots.Timeslot,
			&uots.UserOutcome, &uots.OutcomeTimeslot, &balance); err != nil {
			return fmt.Errorf("postgres: scan user outcome timeslot: %w", err)
		}
		if uots.Balance, err = parseDecimal(balance); err != nil {
			return err
		}
		state.UserOutcomeTimeslots.Restore(uots)
	}
	return rows.Err()
}

func (s *EntityStore) loadTransfers(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, outcome_timeslot, from_user, to_user, block_timestamp, amount::text
		FROM outcome_timeslot_transfers`)
	if err != nil {
		return fmt.Errorf("postgres: load transfers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tr domain.OutcomeTimeslotTransfer
		var amount string
		if err := rows.Scan(&tr.ID, &tr.OutcomeTimeslot, &tr.From, &tr.To, &tr.Timestamp, &amount); err != nil {
			return fmt.Errorf("postgres: scan transfer: %w", err)
		}
		if tr.Amount, err = parseDecimal(amount); err != nil {
			return err
		}
		state.Transfers.Restore(tr)
	}
	return rows.Err()
}

func (s *EntityStore) loadAggregates(ctx context.Context, state *repo.State) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, total_virtual_floors_created FROM virtual_floors_aggregates`)
	if err != nil {
		return fmt.Errorf("postgres: load aggregates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var agg domain.VirtualFloorsAggregate
		if err := rows.Scan(&agg.ID, &agg.TotalVirtualFloorsCreated); err != nil {
			return fmt.Errorf("postgres: scan aggregate: %w", err)
		}
		state.Aggregates.Restore(agg)
	}
	return rows.Err()
}
