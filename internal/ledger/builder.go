package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/metrics"
	"github.com/skylinetransit/ticketing/pkg/money"
	"go.uber.org/zap"
)

// ZeroSumTolerance bounds |Σ debit − Σ credit| for every transaction
// the builder emits
const ZeroSumTolerance = 1e-6

// AbsorbDescription marks the discount the platform takes on when the
// outstanding payable is below the gateway minimum
const AbsorbDescription = "[absorb-small-payments]"

// Store is the persistence surface the builder needs. Implemented by
// Repository; mocked in unit tests.
type Store interface {
	CreateTransaction(ctx context.Context, q database.Querier, t *Transaction) error
	CreateItems(ctx context.Context, q database.Querier, items []*Item) error
	CreatePayment(ctx context.Context, q database.Querier, options Notes) (uuid.UUID, error)
	CreateTransfer(ctx context.Context, q database.Querier, companyID uuid.UUID) (uuid.UUID, error)
	EnsureAccount(ctx context.Context, q database.Querier, name string) (uuid.UUID, error)
}

// Target tracks one sold entity (ticket or route pass) through the
// builder pipeline: its credit line, the amount still payable after
// discounts, and the discount accumulated against it.
type Target struct {
	ItemType      ItemType
	EntityID      uuid.UUID
	UserID        uuid.UUID
	Amount        float64
	Outstanding   float64
	DiscountValue float64
	item          *Item
}

// Item returns the credit line the target was sold on
func (t *Target) Item() *Item {
	return t.item
}

// Options configures a builder for one workflow run
type Options struct {
	Creator     Actor
	Description string
	Committed   bool
	DryRun      bool
}

// Builder accumulates typed line items into a balanced journal entry.
// One builder serves one workflow run inside one database transaction;
// it is not safe for concurrent use.
type Builder struct {
	store     Store
	q         database.Querier
	runner    database.TxRunner
	creator   Actor
	desc      string
	committed bool
	dryRun    bool

	companyID uuid.UUID
	items     []*Item
	targets   []*Target
	hooks     []func(ctx context.Context, q database.Querier) error
	undo      []UndoOp

	paymentRowID uuid.UUID
}

// NewBuilder creates a builder bound to the workflow's open database
// transaction. In dry-run mode the store and querier are never
// touched.
func NewBuilder(store Store, q database.Querier, runner database.TxRunner, opts Options) *Builder {
	return &Builder{
		store:     store,
		q:         q,
		runner:    runner,
		creator:   opts.Creator,
		desc:      opts.Description,
		committed: opts.Committed,
		dryRun:    opts.DryRun,
	}
}

// DryRun reports whether the builder skips persistence
func (b *Builder) DryRun() bool { return b.dryRun }

// CompanyID returns the single counterparty company, uuid.Nil before
// the first sale line
func (b *Builder) CompanyID() uuid.UUID { return b.companyID }

// Querier exposes the workflow's open transaction to appliers
func (b *Builder) Querier() database.Querier { return b.q }

// SetCompany pins the counterparty company. A second distinct company
// violates the single-counterparty invariant.
func (b *Builder) SetCompany(companyID uuid.UUID) error {
	if companyID == uuid.Nil {
		return common.NewInternalError("transaction requires a counterparty company", nil)
	}
	if b.companyID != uuid.Nil && b.companyID != companyID {
		return common.NewTransactionError("multiCompany",
			"all items in a transaction must belong to one transport company")
	}
	b.companyID = companyID
	return nil
}

// AddSale pushes a credit line selling an entity (ticket or route
// pass) at the given price and registers it as a discount target. An
// entity may appear at most once per transaction.
func (b *Builder) AddSale(itemType ItemType, entityID, userID, companyID uuid.UUID, price float64, notes Notes) (*Target, error) {
	if price < 0 {
		return nil, common.NewInternalError(
			fmt.Sprintf("sale amount must be non-negative, got %.2f", price), nil)
	}
	if err := b.SetCompany(companyID); err != nil {
		return nil, err
	}
	for _, t := range b.targets {
		if t.EntityID == entityID {
			return nil, common.NewTransactionError("duplicateItem",
				fmt.Sprintf("%s %s appears more than once in the transaction", itemType, entityID))
		}
	}

	price = money.RoundToCent(price)
	id := entityID
	item := &Item{
		ID:       uuid.New(),
		ItemType: itemType,
		ItemID:   &id,
		Credit:   price,
		Notes:    notes,
	}
	target := &Target{
		ItemType:    itemType,
		EntityID:    entityID,
		UserID:      userID,
		Amount:      price,
		Outstanding: price,
		item:        item,
	}
	b.items = append(b.items, item)
	b.targets = append(b.targets, target)
	return target, nil
}

// AddItem pushes a raw line item. Refund workflows use this to append
// gateway-side effects that have no sale target.
func (b *Builder) AddItem(item *Item) error {
	if item.Debit < 0 || item.Credit < 0 {
		return common.NewInternalError("line item amounts must be non-negative", nil)
	}
	if item.Debit > 0 && item.Credit > 0 {
		return common.NewInternalError("line item may post to only one side", nil)
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	b.items = append(b.items, item)
	return nil
}

// Items returns all accumulated line items in insertion order
func (b *Builder) Items() []*Item { return b.items }

// ItemsOfType returns accumulated items with the given type
func (b *Builder) ItemsOfType(itemType ItemType) []*Item {
	var out []*Item
	for _, item := range b.items {
		if item.ItemType == itemType {
			out = append(out, item)
		}
	}
	return out
}

// Targets returns the registered sale targets in insertion order
func (b *Builder) Targets() []*Target { return b.targets }

// TargetsOfType returns the sale targets with the given item type
func (b *Builder) TargetsOfType(itemType ItemType) []*Target {
	var out []*Target
	for _, t := range b.targets {
		if t.ItemType == itemType {
			out = append(out, t)
		}
	}
	return out
}

// ApplyDiscount allocates a discount across targets and pushes a
// single discount debit equal to the allocation total. Each target's
// outstanding amount drops by its allocation; its cumulative discount
// rises by the same.
func (b *Builder) ApplyDiscount(targets []*Target, allocations []float64, notes Notes) (*Item, error) {
	if len(targets) != len(allocations) {
		return nil, common.NewInternalError("discount allocations must match targets", nil)
	}

	var total float64
	for i, target := range targets {
		alloc := money.RoundToCent(allocations[i])
		if alloc < 0 {
			return nil, common.NewInternalError("discount allocation must be non-negative", nil)
		}
		if alloc > target.Outstanding+ZeroSumTolerance {
			return nil, common.NewInternalError(
				fmt.Sprintf("discount %.2f exceeds outstanding %.2f on %s %s",
					alloc, target.Outstanding, target.ItemType, target.EntityID), nil)
		}
		target.Outstanding = money.RoundToCent(target.Outstanding - alloc)
		target.DiscountValue = money.RoundToCent(target.DiscountValue + alloc)
		total += alloc
	}

	total = money.RoundToCent(total)
	if total == 0 {
		return nil, nil
	}

	item := &Item{
		ID:       uuid.New(),
		ItemType: ItemDiscount,
		Debit:    total,
		Notes:    notes,
	}
	b.items = append(b.items, item)
	return item, nil
}

// ExcessCredit returns Σ credit − Σ debit across all items, the amount
// still to be collected from the payer
func (b *Builder) ExcessCredit() float64 {
	var sum float64
	for _, item := range b.items {
		sum += item.Credit - item.Debit
	}
	return sum
}

// AbsorbSmallResidual converts a positive outstanding payable at or
// below the gateway minimum into a platform-borne discount, since the
// gateway refuses sub-minimum charges. Reports whether it absorbed.
func (b *Builder) AbsorbSmallResidual(minChargeCents int64) (bool, error) {
	excessCents := money.ToCents(b.ExcessCredit())
	if excessCents <= 0 || excessCents > minChargeCents {
		return false, nil
	}

	var targets []*Target
	var allocations []float64
	for _, t := range b.targets {
		if t.Outstanding > 0 {
			targets = append(targets, t)
			allocations = append(allocations, t.Outstanding)
		}
	}
	if len(targets) == 0 {
		return false, nil
	}

	_, err := b.ApplyDiscount(targets, allocations, Notes{
		NoteDescription: AbsorbDescription,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// FinalizeForPayment balances the entry against the counterparty
// company: a payment debit for the excess credit, a transfer credit
// owed to the company, and a mirroring cost-of-goods account debit.
// A zero excess appends nothing.
func (b *Builder) FinalizeForPayment(ctx context.Context, companyID uuid.UUID) error {
	if err := b.SetCompany(companyID); err != nil {
		return err
	}

	excess := money.RoundToCent(b.ExcessCredit())
	if excess < -ZeroSumTolerance {
		return common.NewInternalError(
			fmt.Sprintf("debits exceed credits by %.2f before payment", -excess), nil)
	}
	if excess <= ZeroSumTolerance {
		return nil
	}

	var paymentID, transferID, accountID *uuid.UUID
	if !b.dryRun {
		pid, err := b.store.CreatePayment(ctx, b.q, Notes{})
		if err != nil {
			return fmt.Errorf("create payment row: %w", err)
		}
		tid, err := b.store.CreateTransfer(ctx, b.q, companyID)
		if err != nil {
			return fmt.Errorf("create transfer row: %w", err)
		}
		aid, err := b.store.EnsureAccount(ctx, b.q, AccountCOGS)
		if err != nil {
			return fmt.Errorf("ensure account row: %w", err)
		}
		paymentID, transferID, accountID = &pid, &tid, &aid
		b.paymentRowID = pid
	}

	b.items = append(b.items,
		&Item{ID: uuid.New(), ItemType: ItemPayment, ItemID: paymentID, Debit: excess},
		&Item{ID: uuid.New(), ItemType: ItemTransfer, ItemID: transferID, Credit: excess,
			Notes: Notes{"companyId": companyID.String()}},
		&Item{ID: uuid.New(), ItemType: ItemAccount, ItemID: accountID, Debit: excess,
			Notes: Notes{NoteDescription: AccountCOGS}},
	)
	return nil
}

// PaymentDebit returns the amount the payment line collects, zero when
// nothing is payable
func (b *Builder) PaymentDebit() float64 {
	for _, item := range b.items {
		if item.ItemType == ItemPayment {
			return item.Debit
		}
	}
	return 0
}

// PaymentRowID returns the persisted payment row id, uuid.Nil in dry
// run or when no payment line exists
func (b *Builder) PaymentRowID() uuid.UUID { return b.paymentRowID }

// PostBuildHook registers a function run inside the same database
// transaction after the journal entry persists. Workflows use hooks
// to commit entity status changes atomically with the entry.
func (b *Builder) PostBuildHook(fn func(ctx context.Context, q database.Querier) error) {
	b.hooks = append(b.hooks, fn)
}

// RecordUndo pushes a compensating action onto the undo stack
func (b *Builder) RecordUndo(op UndoOp) {
	b.undo = append(b.undo, op)
}

// UndoOps returns the recorded compensating actions in push order
func (b *Builder) UndoOps() []UndoOp { return b.undo }

// Build validates the zero-sum invariant and persists the transaction
// with its items, running post-build hooks inside the same database
// transaction. In dry run it returns the in-memory entry without
// touching the store. The returned UndoFunc replays the undo stack in
// reverse under a fresh database transaction.
func (b *Builder) Build(ctx context.Context, txType TransactionType) (*Transaction, UndoFunc, error) {
	for _, item := range b.items {
		if item.Debit < 0 || item.Credit < 0 {
			return nil, nil, common.NewInternalError("line item amounts must be non-negative", nil)
		}
	}

	t := &Transaction{
		ID:          uuid.New(),
		Type:        txType,
		Committed:   b.committed,
		Description: b.desc,
		CreatedBy:   b.creator,
		Items:       b.items,
	}
	if sum := t.SignedSum(); math.Abs(sum) >= ZeroSumTolerance {
		return nil, nil, common.NewInternalError(
			fmt.Sprintf("transaction does not balance: signed sum %.6f", sum), nil)
	}
	for _, item := range b.items {
		item.TransactionID = t.ID
	}

	if b.dryRun {
		metrics.TransactionCommitted(string(txType), true)
		return t, NopUndo, nil
	}

	if err := b.store.CreateTransaction(ctx, b.q, t); err != nil {
		return nil, nil, fmt.Errorf("persist transaction: %w", err)
	}
	if err := b.store.CreateItems(ctx, b.q, t.Items); err != nil {
		return nil, nil, fmt.Errorf("persist transaction items: %w", err)
	}
	for _, hook := range b.hooks {
		if err := hook(ctx, b.q); err != nil {
			return nil, nil, err
		}
	}

	metrics.TransactionCommitted(string(txType), false)
	return t, b.undoFunc(t), nil
}

func (b *Builder) undoFunc(t *Transaction) UndoFunc {
	if len(b.undo) == 0 || b.runner == nil {
		return NopUndo
	}
	ops := make([]UndoOp, len(b.undo))
	copy(ops, b.undo)
	txType := string(t.Type)

	return func(ctx context.Context) error {
		err := b.runner.WithinTx(ctx, pgx.ReadCommitted, func(ctx context.Context, q database.Querier) error {
			for i := len(ops) - 1; i >= 0; i-- {
				if err := ops[i].Run(ctx, q); err != nil {
					return fmt.Errorf("undo %s %s: %w", ops[i].Kind, ops[i].EntityID, err)
				}
			}
			return nil
		})
		if err != nil {
			logger.Error("compensating undo failed",
				zap.String("transaction_id", t.ID.String()),
				zap.Error(err))
			return err
		}
		metrics.TransactionUndone(txType)
		return nil
	}
}
