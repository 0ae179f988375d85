// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the engine over JSON-RPC.
package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/pos/engine"
	"github.com/luxfi/pos/types"
)

// Service wraps the engine for JSON-RPC access.
type Service struct {
	engine *engine.Engine
	log    log.Logger
}

// NewHTTPHandler returns an HTTP handler serving the pos API.
func NewHTTPHandler(e *engine.Engine, logger log.Logger) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")

	service := &Service{engine: e, log: logger}
	return server, server.RegisterService(service, "pos")
}

type GetBalanceArgs struct {
	Address string `json:"address"`
}

type GetBalanceReply struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// GetBalance returns the balance and next nonce of an address at the
// fork-choice head.
func (s *Service) GetBalance(_ *http.Request, args *GetBalanceArgs, reply *GetBalanceReply) error {
	s.log.Debug("API called", "service", "pos", "method", "getBalance")

	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("parsing address %q: %w", args.Address, err)
	}
	if reply.Balance, err = s.engine.GetBalance(addr); err != nil {
		return err
	}
	reply.Nonce, err = s.engine.GetNonce(addr)
	return err
}

type GetBlockArgs struct {
	BlockID string  `json:"blockID"`
	Height  *uint64 `json:"height"`
}

type BlockSummary struct {
	BlockID   string   `json:"blockID"`
	Height    uint64   `json:"height"`
	Timestamp uint64   `json:"timestamp"`
	ParentID  string   `json:"parentID"`
	StateRoot string   `json:"stateRoot"`
	TxRoot    string   `json:"txRoot"`
	Proposer  string   `json:"proposer"`
	TxIDs     []string `json:"txIDs"`
}

// GetBlock returns a block by ID, or by canonical height if no ID is
// given.
func (s *Service) GetBlock(_ *http.Request, args *GetBlockArgs, reply *BlockSummary) error {
	s.log.Debug("API called", "service", "pos", "method", "getBlock")

	var (
		blk *types.Block
		err error
	)
	switch {
	case args.BlockID != "":
		var id ids.ID
		if id, err = ids.FromString(args.BlockID); err != nil {
			return fmt.Errorf("parsing block ID %q: %w", args.BlockID, err)
		}
		blk, err = s.engine.GetBlock(id)
	case args.Height != nil:
		blk, err = s.engine.GetBlockByHeight(*args.Height)
	default:
		return fmt.Errorf("either blockID or height is required")
	}
	if err != nil {
		return err
	}

	*reply = BlockSummary{
		BlockID:   blk.ID().String(),
		Height:    blk.Height,
		Timestamp: blk.Timestamp,
		ParentID:  blk.ParentID.String(),
		StateRoot: blk.StateRoot.String(),
		TxRoot:    blk.TxRoot.String(),
		Proposer:  blk.Proposer.String(),
		TxIDs:     make([]string, 0, len(blk.Txs)),
	}
	for _, tx := range blk.Txs {
		reply.TxIDs = append(reply.TxIDs, tx.ID().String())
	}
	return nil
}

type GetHeadReply struct {
	BlockID         string `json:"blockID"`
	Height          uint64 `json:"height"`
	FinalizedID     string `json:"finalizedID"`
	FinalizedHeight uint64 `json:"finalizedHeight"`
}

// GetHead returns the fork-choice head and the finality frontier.
func (s *Service) GetHead(_ *http.Request, _ *struct{}, reply *GetHeadReply) error {
	s.log.Debug("API called", "service", "pos", "method", "getHead")

	headID, headHeight := s.engine.Head()
	finalID, finalHeight := s.engine.LastFinalized()
	reply.BlockID = headID.String()
	reply.Height = headHeight
	reply.FinalizedID = finalID.String()
	reply.FinalizedHeight = finalHeight
	return nil
}

type IssueTxArgs struct {
	// Tx is the hex encoded canonical transaction.
	Tx string `json:"tx"`
}

type IssueTxReply struct {
	TxID string `json:"txID"`
}

// IssueTx decodes, checks, and pools a transaction.
func (s *Service) IssueTx(_ *http.Request, args *IssueTxArgs, reply *IssueTxReply) error {
	s.log.Debug("API called", "service", "pos", "method", "issueTx")

	raw, err := hex.DecodeString(strings.TrimPrefix(args.Tx, "0x"))
	if err != nil {
		return fmt.Errorf("decoding transaction hex: %w", err)
	}
	tx, err := types.ParseTransaction(raw)
	if err != nil {
		return err
	}
	if err := s.engine.SubmitTransaction(tx); err != nil {
		return err
	}
	reply.TxID = tx.ID().String()
	return nil
}

type ValidatorSummary struct {
	Address string `json:"address"`
	Stake   uint64 `json:"stake"`
	Status  string `json:"status"`
	Rewards uint64 `json:"rewards"`
}

type GetValidatorsReply struct {
	Validators []ValidatorSummary `json:"validators"`
}

// GetValidators returns every validator record.
func (s *Service) GetValidators(_ *http.Request, _ *struct{}, reply *GetValidatorsReply) error {
	s.log.Debug("API called", "service", "pos", "method", "getValidators")

	for _, v := range s.engine.Validators() {
		reply.Validators = append(reply.Validators, ValidatorSummary{
			Address: v.Address.String(),
			Stake:   v.Stake,
			Status:  v.Status.String(),
			Rewards: v.AccumulatedRewards,
		})
	}
	return nil
}

type GetCheckpointArgs struct {
	BlockID string `json:"blockID"`
}

type GetCheckpointReply struct {
	Status string `json:"status"`
}

// GetCheckpoint reports the finality status of a checkpoint block.
func (s *Service) GetCheckpoint(_ *http.Request, args *GetCheckpointArgs, reply *GetCheckpointReply) error {
	s.log.Debug("API called", "service", "pos", "method", "getCheckpoint")

	id, err := ids.FromString(args.BlockID)
	if err != nil {
		return fmt.Errorf("parsing block ID %q: %w", args.BlockID, err)
	}
	status, err := s.engine.CheckpointStatus(id)
	if err != nil {
		return err
	}
	reply.Status = status.String()
	return nil
}

type HealthReply struct {
	Healthy  bool   `json:"healthy"`
	Halted   bool   `json:"halted"`
	Version  string `json:"version"`
	Height   uint64 `json:"height"`
	PoolSize int    `json:"poolSize"`
}

// Health reports liveness. A node that has halted production over a state
// divergence reports unhealthy until an operator restarts it.
func (s *Service) Health(_ *http.Request, _ *struct{}, reply *HealthReply) error {
	_, reply.Height = s.engine.Head()
	reply.Version = engine.Version.String()
	reply.PoolSize = s.engine.PoolLen()
	reply.Halted = s.engine.Halted()
	reply.Healthy = !reply.Halted
	return nil
}
