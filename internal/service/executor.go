package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/traces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExecutorConfig tunes batch processing.
type ExecutorConfig struct {
	BatchSize       int
	LeaseTTL        time.Duration
	MaxAttempts     int
	TransferTimeout time.Duration
}

type feeCollector interface {
	CollectAsync(e *domain.Escrow)
}

// Executor drains the settlement queues and executes crypto legs.
// Each priority is processed under a lease so at most one instance works a queue.
type Executor struct {
	escrows    ports.EscrowRepository
	recon      ports.ReconciliationRepository
	transactor ports.DBTransactor
	store      ports.QueueStore
	transfers  ports.TokenTransferer
	registry   *domain.AssetRegistry
	retries    *RetryScheduler
	fees       feeCollector
	cfg        ExecutorConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewExecutor creates a new Executor. fees may be nil.
func NewExecutor(
	escrows ports.EscrowRepository,
	recon ports.ReconciliationRepository,
	transactor ports.DBTransactor,
	store ports.QueueStore,
	transfers ports.TokenTransferer,
	registry *domain.AssetRegistry,
	retries *RetryScheduler,
	fees feeCollector,
	cfg ExecutorConfig,
	log zerolog.Logger,
) *Executor {
	return &Executor{
		escrows:    escrows,
		recon:      recon,
		transactor: transactor,
		store:      store,
		transfers:  transfers,
		registry:   registry,
		retries:    retries,
		fees:       fees,
		cfg:        cfg,
		log:        log.With().Str("component", "executor").Logger(),
		now:        time.Now,
	}
}

// Drain processes high, then normal, then low. A lower priority is only touched
// once every higher queue is empty, so sustained high-priority load starves it.
func (x *Executor) Drain(ctx context.Context) error {
	for _, p := range domain.Priorities {
		if _, err := x.ProcessQueue(ctx, p); err != nil {
			return err
		}
		pending, err := x.store.Pending(ctx, p)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
	}
	return nil
}

// ProcessQueue runs one batch of priority p under its lease. It returns the
// number of items executed; zero when another instance holds the lease.
func (x *Executor) ProcessQueue(ctx context.Context, p domain.Priority) (int, error) {
	token, ok, err := x.store.AcquireLease(ctx, p, x.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		x.log.Debug().Str("priority", string(p)).Msg("queue lease held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := x.store.ReleaseLease(context.WithoutCancel(ctx), p, token); err != nil {
			x.log.Warn().Err(err).Str("priority", string(p)).Msg("releasing queue lease")
		}
	}()

	// A claim outlives the longest possible transfer, so stalled cleanup never
	// requeues an item whose transfer may still be in flight.
	claimTTL := x.cfg.LeaseTTL + x.cfg.TransferTimeout
	items, err := x.store.PopBatch(ctx, p, x.cfg.BatchSize, token, claimTTL)
	if err != nil {
		return 0, err
	}

	// Grouping is kept for a future multi-send; items still execute one by one.
	var ordered []*domain.QueuedTransaction
	for _, group := range groupItems(items) {
		ordered = append(ordered, group...)
	}

	done := 0
	for i, item := range ordered {
		held, err := x.store.RenewLease(ctx, p, token, x.cfg.LeaseTTL)
		if err == nil && held {
			_, err = x.store.ExtendClaims(ctx, p, token, claimTTL, itemIDs(ordered[i:])...)
		}
		if err != nil || !held {
			// The rest of the batch stays in processing until its claims expire.
			x.log.Warn().Err(err).Str("priority", string(p)).Int("left", len(ordered)-done).Msg("queue lease lost mid-batch")
			return done, err
		}
		x.execute(ctx, item)
		done++
	}
	return done, nil
}

func itemIDs(items []*domain.QueuedTransaction) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// RecoverStalled returns processing items whose claims expired to their queues.
func (x *Executor) RecoverStalled(ctx context.Context) error {
	var errs []error
	for _, p := range domain.Priorities {
		n, err := x.store.RequeueStalled(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			x.log.Warn().Str("priority", string(p)).Int("count", n).Msg("stalled items requeued")
		}
	}
	return errors.Join(errs...)
}

// groupItems groups by chain, token and recipient, preserving FIFO order of
// first appearance.
func groupItems(items []*domain.QueuedTransaction) [][]*domain.QueuedTransaction {
	index := make(map[string]int)
	var groups [][]*domain.QueuedTransaction
	for _, item := range items {
		key := item.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

func (x *Executor) execute(ctx context.Context, item *domain.QueuedTransaction) {
	var execErr error
	ctx, span := traces.StartSpan(ctx, "settlement.execute",
		traces.ItemID(item.ID.String()),
		traces.EscrowID(item.EscrowID.String()),
		traces.Priority(string(item.Priority)),
		traces.Attempt(item.Attempts+1),
	)
	defer func() { traces.End(span, execErr) }()

	log := x.log.With().
		Str("item_id", item.ID.String()).
		Str("escrow_id", item.EscrowID.String()).
		Str("priority", string(item.Priority)).
		Int("attempt", item.Attempts+1).
		Logger()

	e, err := x.escrows.GetByID(ctx, item.EscrowID)
	if err != nil {
		// Nothing was attempted, so the attempt count stays as it is.
		execErr = err
		log.Error().Err(err).Msg("loading escrow, deferring item")
		metrics.TransferAttemptsTotal.WithLabelValues("deferred").Inc()
		if _, derr := x.retries.Defer(ctx, item); derr != nil && !errors.Is(derr, domain.ErrNotProcessing) {
			log.Error().Err(derr).Msg("deferring item")
		}
		return
	}
	if e == nil {
		log.Error().Msg("queue item references unknown escrow, dropping")
		x.finish(ctx, item, "skipped")
		return
	}
	if e.Status.IsTerminal() {
		log.Info().Str("status", string(e.Status)).Msg("escrow already terminal, dropping item")
		x.finish(ctx, item, "skipped")
		return
	}

	if !domain.ValidAddress(item.ToAddress) {
		execErr = domain.ErrInvalidAddress
		x.fail(ctx, item, e, domain.ErrInvalidAddress, true)
		return
	}
	asset, ok := x.registry.Asset(item.Chain, item.Token)
	if !ok {
		execErr = domain.ErrUnsupportedAsset
		x.fail(ctx, item, e, domain.ErrUnsupportedAsset, true)
		return
	}
	raw, err := domain.ToBaseUnits(item.Amount, asset.Decimals)
	if err != nil {
		execErr = err
		x.fail(ctx, item, e, err, true)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, x.cfg.TransferTimeout)
	start := x.now()
	hash, err := x.transfers.Transfer(tctx, ports.TransferOrder{
		Chain:  asset.Chain,
		Token:  asset.Token,
		To:     item.ToAddress,
		Amount: raw,
		From:   domain.WalletMain,
	})
	timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.TransferDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		var te *domain.TransferError
		if timedOut && !errors.As(err, &te) {
			err = &domain.TransferError{Kind: domain.TransferTimeout, Op: "transfer", Err: err}
		}
		execErr = err
		log.Warn().Err(err).Msg("transfer failed")
		x.fail(ctx, item, e, err, domain.IsPermanentTransferError(err))
		return
	}

	x.succeed(ctx, item, e, hash, log)
}

func (x *Executor) succeed(ctx context.Context, item *domain.QueuedTransaction, e *domain.Escrow, hash string, log zerolog.Logger) {
	now := x.now().UTC()
	retries := item.Attempts
	ok, err := transition(ctx, x.escrows, nil, e.ID,
		domain.SourcesFor(domain.EscrowStatusCompleted),
		domain.EscrowUpdate{
			Status:       domain.EscrowStatusCompleted,
			CryptoTxHash: hash,
			CompletedAt:  &now,
			RetryCount:   &retries,
			Details:      domain.EscrowDetails{QueuedTxID: item.ID.String()},
		},
	)
	if err != nil {
		// The transfer is out; dropping the item prevents a second one.
		log.Error().Err(err).Str("tx_hash", hash).Msg("transfer sent but escrow not updated")
	} else if !ok {
		log.Warn().Str("tx_hash", hash).Msg("transfer sent but escrow was no longer open")
	}

	x.finish(ctx, item, "success")
	log.Info().Str("tx_hash", hash).Str("amount", item.Amount.String()).Msg("crypto leg completed")

	if ok && x.fees != nil && e.Details.Fee != "" {
		x.fees.CollectAsync(e)
	}
}

// fail records the attempt, then either schedules a retry or, for permanent
// errors and exhausted attempts, moves the escrow to error for manual review.
func (x *Executor) fail(ctx context.Context, item *domain.QueuedTransaction, e *domain.Escrow, cause error, permanent bool) {
	at := x.now().UTC()
	item.Attempts++
	item.LastAttempt = &at
	item.LastError = cause.Error()

	if err := x.escrows.RecordAttempt(ctx, e.ID, item.Attempts, at); err != nil {
		x.log.Warn().Err(err).Str("escrow_id", e.ID.String()).Msg("recording attempt")
	}

	if permanent || item.Attempts >= x.cfg.MaxAttempts {
		x.exhaust(ctx, item, e, cause, permanent)
		return
	}

	metrics.TransferAttemptsTotal.WithLabelValues("retry").Inc()
	if _, err := x.retries.Schedule(ctx, item); err != nil && !errors.Is(err, domain.ErrNotProcessing) {
		x.log.Error().Err(err).Str("item_id", item.ID.String()).Msg("scheduling retry")
	}
}

func (x *Executor) exhaust(ctx context.Context, item *domain.QueuedTransaction, e *domain.Escrow, cause error, permanent bool) {
	at := *item.LastAttempt
	attempts := item.Attempts
	detail := map[string]string{
		"item_id":    item.ID.String(),
		"attempts":   strconv.Itoa(attempts),
		"last_error": cause.Error(),
		"permanent":  strconv.FormatBool(permanent),
		"to_address": item.ToAddress,
		"amount":     item.Amount.String(),
	}

	ok, err := transitionWithEvent(ctx, x.transactor, x.escrows, x.recon, e.ID,
		[]domain.EscrowStatus{domain.EscrowStatusProcessing},
		domain.EscrowUpdate{
			Status:      domain.EscrowStatusError,
			RetryCount:  &attempts,
			LastRetryAt: &at,
			Details: domain.EscrowDetails{
				QueuedTxID:   item.ID.String(),
				ErrorDetail:  cause.Error(),
				ManualReview: true,
			},
		},
		domain.NewReconciliationEvent(e, domain.ReconRetriesExhausted, true, detail),
	)
	if err != nil {
		// Leave the item in processing; stalled cleanup brings it back and the
		// attempt counter makes the next failure land here again.
		x.log.Error().Err(err).Str("escrow_id", e.ID.String()).Msg("moving escrow to error")
		return
	}

	outcome := "exhausted"
	if permanent {
		outcome = "permanent"
	}
	x.finish(ctx, item, outcome)
	if ok {
		x.log.Error().
			Str("escrow_id", e.ID.String()).
			Str("transaction_id", e.TransactionID.String()).
			Str("item_id", item.ID.String()).
			Int("attempt", attempts).
			Bool("permanent", permanent).
			Str("last_error", cause.Error()).
			Msg("crypto leg failed after fiat settled, escrow needs manual review")
	}
}

func (x *Executor) finish(ctx context.Context, item *domain.QueuedTransaction, outcome string) {
	metrics.TransferAttemptsTotal.WithLabelValues(outcome).Inc()
	if err := x.store.Finish(ctx, item); err != nil {
		x.log.Error().Err(err).Str("item_id", item.ID.String()).Msg("removing finished item")
	}
}
