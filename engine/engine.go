// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine ties the consensus components together. A single writer
// goroutine owns all chain mutations; network and RPC ingress is funneled
// through it, and readers see only committed or fully applied blocks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/version"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/epoch"
	"github.com/luxfi/pos/executor"
	"github.com/luxfi/pos/finality"
	"github.com/luxfi/pos/forkchoice"
	"github.com/luxfi/pos/genesis"
	"github.com/luxfi/pos/leader"
	"github.com/luxfi/pos/metrics"
	"github.com/luxfi/pos/state"
	"github.com/luxfi/pos/types"
	"github.com/luxfi/pos/validators"
)

const mailboxSize = 256

var (
	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}

	ErrUnknownParent      = errors.New("block parent is unknown, buffered as orphan")
	ErrBadHeight          = errors.New("block height does not extend its parent")
	ErrIneligibleProposer = errors.New("proposer is not an active validator")
	ErrNotSlotLeader      = errors.New("proposer is not the leader for this slot")
	ErrStateRootMismatch  = errors.New("state root does not match execution result")
	ErrNotValidator       = errors.New("engine has no staking key")
	ErrHalted             = errors.New("block production halted pending operator intervention")
)

// Params configures a new engine.
type Params struct {
	Config  config.Config
	DB      database.Database
	Genesis *genesis.Config

	// Scorer weights epoch rewards. Nil means stake-proportional.
	Scorer epoch.Scorer

	// Transport is the outbound network surface. Nil means no network.
	Transport Transport

	// Registerer receives the engine's metrics. Nil disables them.
	Registerer metric.Registerer

	// StakeKey signs produced blocks. Nil makes the node a non-producing
	// observer.
	StakeKey *secp256k1.PrivateKey

	Log log.Logger
}

// blockEntry is a fully applied, not yet finalized block: its body, its
// ledger diff over the parent's view, and its receipts.
type blockEntry struct {
	blk      *types.Block
	diff     *state.Diff
	receipts []*types.Receipt
}

type message struct {
	block       *types.Block
	tx          *types.Transaction
	attestation *finality.Attestation
	evidence    *finality.Evidence
}

// Engine drives the chain: it validates and applies incoming blocks,
// produces blocks when the local key is slot leader, tracks finality, and
// folds finalized blocks into the committed state.
type Engine struct {
	cfg   config.Config
	log   log.Logger
	clock Clock

	state   *state.State
	exec    *executor.Executor
	vals    *validators.Set
	tracker *finality.Tracker
	slasher *finality.Slasher
	epochs  *epoch.Processor

	transport Transport
	metrics   *metrics.Metrics
	pool      *txPool

	key  *secp256k1.PrivateKey
	addr types.Address

	// writeMu serializes all chain mutations. The run loop holds it for
	// each message; synchronous submitters take it directly.
	writeMu sync.Mutex

	// mu guards the structures below for concurrent readers. Only the
	// write path mutates them, under both locks.
	mu              sync.RWMutex
	tree            *forkchoice.Tree
	blocks          map[types.Hash]*blockEntry
	plans           map[uint64]*epoch.Plan
	finalizedHeight uint64

	// halted latches when execution of an otherwise valid block disagrees
	// with its declared state root. Only a restart clears it.
	halted bool

	// orphans is touched only under writeMu.
	orphans *orphanBuffer

	mailbox chan message
	wg      sync.WaitGroup
}

// New opens or creates a chain over p.DB. A fresh database is initialized
// from p.Genesis; otherwise the engine resumes from the last finalized
// block.
func New(p Params) (*Engine, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.DB == nil {
		return nil, errors.New("engine requires a database")
	}
	if p.Log == nil {
		p.Log = log.NoLog{}
	}
	if p.Transport == nil {
		p.Transport = NoopTransport{}
	}

	var m *metrics.Metrics
	if p.Registerer != nil {
		var err error
		if m, err = metrics.New(p.Registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	st := state.New(p.DB, p.Log)
	vals, err := validators.NewSet(st.ValidatorDB(), p.Config.MinValidatorStake, p.Log)
	if err != nil {
		return nil, fmt.Errorf("loading validator set: %w", err)
	}

	lastAccepted, err := st.LastAccepted()
	if err != nil {
		return nil, err
	}

	var root *types.Block
	if lastAccepted == types.EmptyHash {
		if p.Genesis == nil {
			return nil, errors.New("fresh database requires a genesis configuration")
		}
		if root, err = genesis.Build(p.Genesis, st, vals); err != nil {
			return nil, fmt.Errorf("building genesis: %w", err)
		}
		if err := st.SetEpochProgress(root.ID(), 0); err != nil {
			return nil, err
		}
		if err := st.Commit(); err != nil {
			return nil, err
		}
	} else if root, err = st.GetBlock(lastAccepted); err != nil {
		return nil, fmt.Errorf("loading last finalized block: %w", err)
	}

	seed, epochIdx, err := st.EpochProgress()
	if err != nil {
		return nil, err
	}
	if seed == types.EmptyHash {
		seed = root.ID()
	}

	rootID := root.ID()
	e := &Engine{
		cfg:       p.Config,
		log:       p.Log,
		state:     st,
		exec:      executor.New(p.Log),
		vals:      vals,
		tracker:   finality.NewTracker(p.Config, vals, rootID, root.Height, p.Log),
		slasher:   finality.NewSlasher(p.Config, vals, p.Log),
		epochs:    epoch.NewProcessor(p.Config, vals, p.Scorer, seed, p.Log),
		transport: p.Transport,
		metrics:   m,
		pool:      newTxPool(p.Config.TxPoolSize),
		key:       p.StakeKey,
		tree:      forkchoice.New(rootID, root.Height, p.Log),
		blocks:    map[types.Hash]*blockEntry{rootID: {blk: root}},
		plans:     make(map[uint64]*epoch.Plan),
		orphans:   newOrphanBuffer(p.Config.OrphanLimit),
		mailbox:   make(chan message, mailboxSize),

		finalizedHeight: root.Height,
	}
	e.epochs.Restore(seed, epochIdx)
	if p.StakeKey != nil {
		e.addr = p.StakeKey.PublicKey().Address()
	}

	e.log.Info("engine initialized",
		"root", rootID,
		"height", root.Height,
		"epoch", epochIdx,
		"validators", vals.Len(),
		"producing", p.StakeKey != nil,
	)
	return e, nil
}

// Start launches the run loop. It returns immediately; cancel ctx and call
// Shutdown to stop.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Shutdown blocks until the run loop has exited.
func (e *Engine) Shutdown() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SlotDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.mailbox:
			e.handle(msg)
		case <-ticker.C:
			if _, err := e.ProposeBlock(); err != nil &&
				!errors.Is(err, ErrNotValidator) &&
				!errors.Is(err, ErrNotSlotLeader) &&
				!errors.Is(err, ErrHalted) {
				e.log.Error("block production failed", "err", err)
			}
		}
	}
}

func (e *Engine) handle(msg message) {
	switch {
	case msg.block != nil:
		if err := e.SubmitBlock(msg.block); err != nil {
			e.log.Debug("block rejected", "block", msg.block.ID(), "err", err)
		}
	case msg.tx != nil:
		if err := e.SubmitTransaction(msg.tx); err != nil {
			e.log.Debug("transaction rejected", "tx", msg.tx.ID(), "err", err)
		}
	case msg.attestation != nil:
		if err := e.SubmitAttestation(msg.attestation); err != nil {
			e.log.Debug("attestation rejected", "checkpoint", msg.attestation.Checkpoint, "err", err)
		}
	case msg.evidence != nil:
		if err := e.SubmitEvidence(msg.evidence); err != nil {
			e.log.Debug("evidence rejected", "err", err)
		}
	}
}

// OnBlockReceived enqueues a block from the network. Drops it if the
// mailbox is full; the peer will be asked again once the gap is noticed.
func (e *Engine) OnBlockReceived(blk *types.Block) { e.send(message{block: blk}) }

// OnTransactionReceived enqueues a gossiped transaction.
func (e *Engine) OnTransactionReceived(tx *types.Transaction) { e.send(message{tx: tx}) }

// OnAttestationReceived enqueues a checkpoint vote.
func (e *Engine) OnAttestationReceived(att *finality.Attestation) {
	e.send(message{attestation: att})
}

// OnEvidenceReceived enqueues equivocation evidence.
func (e *Engine) OnEvidenceReceived(ev *finality.Evidence) { e.send(message{evidence: ev}) }

func (e *Engine) send(msg message) {
	select {
	case e.mailbox <- msg:
	default:
		e.log.Warn("mailbox full, dropping message")
	}
}

// SubmitBlock validates, executes, and inserts a block synchronously.
func (e *Engine) SubmitBlock(blk *types.Block) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.processBlock(blk)
}

func (e *Engine) processBlock(blk *types.Block) error {
	if err := blk.SyntacticVerify(); err != nil {
		e.metrics.MarkBlockRejected()
		return err
	}
	id := blk.ID()
	if e.tree.Has(id) {
		return nil
	}
	if blk.Height <= e.finalizedHeight {
		// Stale: conflicts with finality or is already committed.
		return nil
	}

	parent, ok := e.tree.Get(blk.ParentID)
	if !ok {
		if head := e.tree.HeadNode(); blk.Height > head.Height+e.cfg.PruneDepth {
			// Too far ahead to ever attach within the retention window.
			e.metrics.MarkBlockRejected()
			return fmt.Errorf("%w: height %d is beyond the retention window", ErrUnknownParent, blk.Height)
		}
		if e.orphans.add(blk) {
			e.metrics.MarkOrphanBuffered()
			e.transport.RequestBlock(blk.ParentID)
			e.log.Debug("orphan buffered", "block", id, "parent", blk.ParentID)
		}
		return fmt.Errorf("%w: %s", ErrUnknownParent, blk.ParentID)
	}
	if blk.Height != parent.Height+1 {
		e.metrics.MarkBlockRejected()
		return fmt.Errorf("%w: height %d on parent height %d", ErrBadHeight, blk.Height, parent.Height)
	}

	if err := blk.VerifySignature(); err != nil {
		e.metrics.MarkBlockRejected()
		return err
	}

	// A second signed block by the same proposer at the same height is
	// equivocation. Slashing jails the proposer, which also fails the
	// eligibility check below.
	if other := e.conflictingProposal(blk); other != nil {
		ev := &finality.Evidence{BlockA: other, BlockB: blk}
		if err := e.applyEvidence(ev); err != nil {
			e.log.Debug("equivocation evidence not applied", "err", err)
		}
	}

	if !e.vals.IsEligible(blk.Proposer) {
		e.metrics.MarkBlockRejected()
		return fmt.Errorf("%w: %s", ErrIneligibleProposer, blk.Proposer)
	}
	expected, err := leader.SelectFromSet(e.epochs.Seed(), blk.Height, e.vals)
	if err != nil {
		return err
	}
	if expected != blk.Proposer {
		e.metrics.MarkBlockRejected()
		return fmt.Errorf("%w: got %s, want %s", ErrNotSlotLeader, blk.Proposer, expected)
	}

	// Transaction signatures are independent; recover them on all cores.
	eg := errgroup.Group{}
	eg.SetLimit(runtime.NumCPU())
	for _, tx := range blk.Txs {
		eg.Go(func() error {
			if tx.FeeLimit < tx.FeePrice {
				return fmt.Errorf("transaction %s: fee limit %d below fee price %d",
					tx.ID(), tx.FeeLimit, tx.FeePrice)
			}
			return e.exec.VerifySignature(tx)
		})
	}
	if err := eg.Wait(); err != nil {
		e.metrics.MarkBlockRejected()
		return err
	}

	diff := state.NewDiff(e.ledgerFor(blk.ParentID))
	receipts, err := e.exec.ApplyAll(diff, blk.Txs, blk.Proposer)
	if err != nil {
		e.metrics.MarkBlockRejected()
		return err
	}

	boundary := blk.Height%e.cfg.EpochLength == 0
	var plan *epoch.Plan
	if boundary {
		if plan, err = e.boundaryPlan(blk.Height); err != nil {
			return err
		}
		if err := e.epochs.CreditLedger(plan, diff); err != nil {
			return err
		}
	}

	root, err := e.state.RootWith(diff.Flatten())
	if err != nil {
		return err
	}
	if root != blk.StateRoot {
		// The block passed every consensus check, so either the proposer or
		// this node computed state wrong. Producing on top of that would
		// spread the divergence; stop and leave the decision to an operator.
		e.metrics.MarkBlockRejected()
		e.mu.Lock()
		e.halted = true
		e.mu.Unlock()
		e.log.Error("state root mismatch, halting block production",
			"block", id,
			"height", blk.Height,
			"computed", root,
			"declared", blk.StateRoot,
		)
		return fmt.Errorf("%w: computed %s, declared %s", ErrStateRootMismatch, root, blk.StateRoot)
	}

	e.mu.Lock()
	if err := e.tree.Add(id, blk.ParentID, blk.Height, blk.Proposer, e.vals.StakeOf(blk.Proposer)); err != nil {
		e.mu.Unlock()
		return err
	}
	e.blocks[id] = &blockEntry{blk: blk, diff: diff, receipts: receipts}
	head := e.tree.HeadNode()
	e.mu.Unlock()

	if boundary {
		parentCp, _ := e.checkpointOf(blk.ParentID)
		e.tracker.AddCheckpoint(id, parentCp, blk.Height)
		if blk.Height == (e.epochs.Index()+1)*e.cfg.EpochLength {
			summary, err := e.epochs.CommitBoundary(plan, e.tracker.LastFinalized())
			if err != nil {
				e.log.Error("epoch boundary commit failed", "height", blk.Height, "err", err)
			} else {
				total, _ := e.vals.TotalActiveStake()
				e.metrics.MarkEpochProcessed(total)
				e.log.Info("epoch advanced", "epoch", summary.Epoch.Index+1, "seed", summary.Seed)
			}
		}
	}

	// Building on a checkpoint's subtree is the proposer's vote for it.
	cpID, cpHeight := e.checkpointOf(id)
	if err := e.tracker.RecordAttestation(blk.Proposer, cpID, cpHeight); err != nil {
		e.log.Debug("implicit attestation skipped", "err", err)
	}
	if err := e.maybeFinalize(); err != nil {
		return err
	}

	e.pool.removeAll(blk.Txs)
	e.metrics.MarkBlockAccepted(head.Height)
	e.log.Info("block accepted",
		"block", id,
		"height", blk.Height,
		"txs", len(blk.Txs),
		"head", head.ID,
	)

	for _, child := range e.takeOrphans(id) {
		if err := e.processBlock(child); err != nil {
			e.log.Debug("buffered orphan rejected", "block", child.ID(), "err", err)
		}
	}
	return nil
}

// conflictingProposal returns an applied block by the same proposer at the
// same height with a different hash, if one exists.
func (e *Engine) conflictingProposal(blk *types.Block) *types.Block {
	id := blk.ID()
	for otherID, entry := range e.blocks {
		if otherID != id &&
			entry.blk.Height == blk.Height &&
			entry.blk.Proposer == blk.Proposer &&
			entry.blk.Signature != [types.SignatureLen]byte{} {
			return entry.blk
		}
	}
	return nil
}

// boundaryPlan returns the cached plan for an epoch boundary height,
// computing and pinning it on first use so that sibling boundary blocks
// agree on the same payouts.
func (e *Engine) boundaryPlan(height uint64) (*epoch.Plan, error) {
	if plan, ok := e.plans[height]; ok {
		return plan, nil
	}
	plan, err := e.epochs.PlanBoundary(height)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.plans[height] = plan
	e.mu.Unlock()
	return plan, nil
}

// ledgerFor returns the account view at the given applied block. The tree
// root's view is the committed store itself.
func (e *Engine) ledgerFor(id types.Hash) state.Ledger {
	if entry, ok := e.blocks[id]; ok && entry.diff != nil {
		return entry.diff
	}
	return e.state
}

// checkpointOf walks up from id to the nearest checkpoint block, the
// ancestor at an epoch boundary height, and returns it with its height.
func (e *Engine) checkpointOf(id types.Hash) (types.Hash, uint64) {
	node, ok := e.tree.Get(id)
	for ok {
		if node.Height%e.cfg.EpochLength == 0 {
			return node.ID, node.Height
		}
		node, ok = e.tree.Get(node.ParentID)
	}
	root, _ := e.tree.Get(e.tree.Root())
	return root.ID, root.Height
}

func (e *Engine) takeOrphans(parentID types.Hash) []*types.Block {
	// Orphans are touched only while writeMu is held.
	return e.orphans.take(parentID)
}

// maybeFinalize folds a newly finalized checkpoint into committed state.
func (e *Engine) maybeFinalize() error {
	finalID, ok := e.tracker.TryFinalize()
	if !ok || finalID == e.tree.Root() {
		return nil
	}
	return e.finalize(finalID)
}

func (e *Engine) finalize(finalID types.Hash) error {
	node, ok := e.tree.Get(finalID)
	if !ok {
		return nil
	}
	entry := e.blocks[finalID]
	if entry == nil || entry.diff == nil {
		return nil
	}

	// Fold the finalized branch into the committed store in one batch.
	if err := e.state.ApplyDiff(entry.diff.Flatten()); err != nil {
		e.state.Abort()
		return err
	}
	oldRoot := e.tree.Root()
	for id := finalID; id != oldRoot; {
		pathEntry, ok := e.blocks[id]
		if !ok {
			break
		}
		if err := e.state.PutBlock(pathEntry.blk); err != nil {
			e.state.Abort()
			return err
		}
		if err := e.state.SetCanonical(pathEntry.blk.Height, id); err != nil {
			e.state.Abort()
			return err
		}
		id = pathEntry.blk.ParentID
	}
	if err := e.state.SetLastAccepted(finalID); err != nil {
		e.state.Abort()
		return err
	}
	if err := e.state.SetEpochProgress(e.epochs.Seed(), e.epochs.Index()); err != nil {
		e.state.Abort()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Abort()
		return fmt.Errorf("committing finalized state: %w", err)
	}

	e.mu.Lock()
	pruned, err := e.tree.Prune(finalID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	for id := range e.blocks {
		if !e.tree.Has(id) {
			delete(e.blocks, id)
		}
	}
	// The new root reads straight from the committed store.
	e.blocks[finalID] = &blockEntry{blk: entry.blk}
	for h := range e.plans {
		if h <= node.Height {
			delete(e.plans, h)
		}
	}
	e.finalizedHeight = node.Height
	e.mu.Unlock()

	e.orphans.evictBelow(node.Height)

	e.log.Info("checkpoint finalized",
		"block", finalID,
		"height", node.Height,
		"pruned", pruned,
	)
	return nil
}

// ProposeBlock builds, applies, and broadcasts a block if the local key is
// the leader for the next slot.
func (e *Engine) ProposeBlock() (*types.Block, error) {
	if e.key == nil {
		return nil, ErrNotValidator
	}
	if e.Halted() {
		return nil, ErrHalted
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	head := e.tree.HeadNode()
	height := head.Height + 1
	leaderAddr, err := leader.SelectFromSet(e.epochs.Seed(), height, e.vals)
	if err != nil {
		return nil, err
	}
	if leaderAddr != e.addr {
		return nil, fmt.Errorf("%w: leader for height %d is %s", ErrNotSlotLeader, height, leaderAddr)
	}

	blk, err := e.buildBlock(head, height)
	if err != nil {
		return nil, fmt.Errorf("building block at height %d: %w", height, err)
	}
	if err := e.processBlock(blk); err != nil {
		return nil, fmt.Errorf("applying own block: %w", err)
	}
	e.transport.BroadcastBlock(blk)
	return blk, nil
}

func (e *Engine) buildBlock(parent forkchoice.BlockNode, height uint64) (*types.Block, error) {
	scratch := state.NewDiff(e.ledgerFor(parent.ID))

	var txs []*types.Transaction
	for _, tx := range e.pool.pending(e.cfg.MaxBlockTxs) {
		if err := e.exec.Check(scratch, tx); err != nil {
			continue
		}
		if _, err := e.exec.Apply(scratch, tx, e.addr); err != nil {
			e.pool.drop(tx.ID())
			continue
		}
		txs = append(txs, tx)
	}

	if height%e.cfg.EpochLength == 0 {
		plan, err := e.boundaryPlan(height)
		if err != nil {
			return nil, err
		}
		if err := e.epochs.CreditLedger(plan, scratch); err != nil {
			return nil, err
		}
	}

	root, err := e.state.RootWith(scratch.Flatten())
	if err != nil {
		return nil, err
	}

	blk := &types.Block{
		Height:    height,
		Timestamp: e.clock.Unix(),
		ParentID:  parent.ID,
		StateRoot: root,
		TxRoot:    types.MerkleRoot(txs),
		Txs:       txs,
	}
	if err := blk.Sign(e.key); err != nil {
		return nil, err
	}
	return blk, nil
}

// SubmitTransaction checks a transaction against the current head view and
// pools it for inclusion.
func (e *Engine) SubmitTransaction(tx *types.Transaction) error {
	e.mu.RLock()
	ledger := e.ledgerFor(e.tree.Head())
	e.mu.RUnlock()

	if err := e.exec.Check(ledger, tx); err != nil {
		return err
	}
	if err := e.pool.add(tx); err != nil {
		return err
	}
	e.metrics.MarkTxAccepted(e.pool.len())
	e.transport.BroadcastTransaction(tx)
	return nil
}

// SubmitAttestation verifies and records a checkpoint vote.
func (e *Engine) SubmitAttestation(att *finality.Attestation) error {
	if err := att.Verify(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.tracker.RecordAttestation(att.Validator, att.Checkpoint, att.Height); err != nil {
		return err
	}
	return e.maybeFinalize()
}

// SubmitEvidence verifies equivocation evidence and slashes the accused.
func (e *Engine) SubmitEvidence(ev *finality.Evidence) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.applyEvidence(ev)
}

func (e *Engine) applyEvidence(ev *finality.Evidence) error {
	penalty, err := e.slasher.Slash(ev, e.tree.HeadNode().Height)
	if err != nil {
		return err
	}
	e.metrics.MarkSlashing()
	e.log.Warn("validator slashed",
		"validator", ev.Accused(),
		"height", ev.BlockA.Height,
		"penalty", penalty,
	)
	return nil
}

// Head returns the fork-choice head and its height.
func (e *Engine) Head() (types.Hash, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	node := e.tree.HeadNode()
	return node.ID, node.Height
}

// Halted reports whether block production is latched off after a state
// root divergence. Restarting the node is the only way to clear it.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// LastFinalized returns the most recently finalized block and its height.
func (e *Engine) LastFinalized() (types.Hash, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Root(), e.finalizedHeight
}

// GetBalance returns the balance of addr at the fork-choice head.
func (e *Engine) GetBalance(addr types.Address) (uint64, error) {
	acct, err := e.headAccount(addr)
	return acct.Balance, err
}

// GetNonce returns the next expected nonce of addr at the fork-choice head.
func (e *Engine) GetNonce(addr types.Address) (uint64, error) {
	acct, err := e.headAccount(addr)
	return acct.Nonce, err
}

func (e *Engine) headAccount(addr types.Address) (state.Account, error) {
	e.mu.RLock()
	ledger := e.ledgerFor(e.tree.Head())
	e.mu.RUnlock()
	return ledger.GetAccount(addr)
}

// GetBlock returns a block by ID, applied or committed.
func (e *Engine) GetBlock(id types.Hash) (*types.Block, error) {
	e.mu.RLock()
	entry, ok := e.blocks[id]
	e.mu.RUnlock()
	if ok {
		return entry.blk, nil
	}
	return e.state.GetBlock(id)
}

// GetBlockByHeight returns the canonical block at height: the finalized
// block below the root, the fork-choice canonical chain above it.
func (e *Engine) GetBlockByHeight(height uint64) (*types.Block, error) {
	e.mu.RLock()
	if height > e.finalizedHeight {
		id, ok := e.tree.CanonicalAt(height)
		entry := e.blocks[id]
		e.mu.RUnlock()
		if !ok || entry == nil {
			return nil, fmt.Errorf("%w: height %d", state.ErrBlockNotFound, height)
		}
		return entry.blk, nil
	}
	e.mu.RUnlock()

	id, err := e.state.GetCanonical(height)
	if err != nil {
		return nil, err
	}
	return e.state.GetBlock(id)
}

// Validators returns a snapshot of every validator record.
func (e *Engine) Validators() []validators.Validator {
	return e.vals.All()
}

// PoolLen returns the number of pooled transactions.
func (e *Engine) PoolLen() int {
	return e.pool.len()
}

// CheckpointStatus reports the finality status of a checkpoint block.
func (e *Engine) CheckpointStatus(id types.Hash) (finality.CheckpointStatus, error) {
	return e.tracker.Status(id)
}

// SetClock pins the engine's clock, for tests.
func (e *Engine) SetClock(t time.Time) {
	e.clock.Set(t)
}
