// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rollup defines the wire types shared by the produce-submit-confirm
// pipeline: L2 block identity, L1 out-points and transactions, and the
// per-block auxiliary records the pipeline persists between runs.
package rollup

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"github.com/holiman/uint256"
)

// Hash is a 32-byte identifier: an L2 block hash or an L1 transaction hash.
type Hash [32]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.UnmarshalText([]byte(s))
}

func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hash %q: %w", string(text), err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash %q has wrong length %d", string(text), len(b))
	}
	copy(h[:], b)
	return nil
}

// NumberHash pairs an L2 block number with its hash. It is the unit of
// progress for all three pipeline pointers (last_valid, last_submitted,
// last_confirmed).
type NumberHash struct {
	Number    uint64 `json:"number"`
	BlockHash Hash   `json:"block_hash"`
}

// OutPoint uniquely identifies an L1 cell: the transaction that created it
// and its output index.
type OutPoint struct {
	TxHash Hash   `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxHash, o.Index)
}

// CellInput is one input of an L1Transaction: the out-point it consumes
// plus the since (lock-time) value attached to it.
type CellInput struct {
	PreviousOutput OutPoint `json:"previous_output"`
	Since          uint64   `json:"since"`
}

// CellOutput is one output of an L1Transaction.
type CellOutput struct {
	Capacity *uint256.Int `json:"capacity"`
	Lock     []byte       `json:"lock"`
	Type     []byte       `json:"type,omitempty"`
}

// L1Transaction is the minimal shape of an L1 transaction needed by the
// pipeline: enough to identify it, hash it, and enumerate the cells it
// consumes and creates. Witness data is carried opaquely since the pipeline
// never inspects it.
type L1Transaction struct {
	Inputs   []CellInput  `json:"inputs"`
	Outputs  []CellOutput `json:"outputs"`
	Witness  [][]byte     `json:"witnesses"`
	CellDeps []OutPoint   `json:"cell_deps"`

	// hash caches the result of Hash(); computed once, since submit_tx(n)
	// is immutable after it is first persisted (spec invariant P2).
	hash *Hash
}

// SetHash pins the transaction's identity, for a composer whose hash is not
// a pure function of the struct fields (e.g. it depends on a signing step).
// The pinned hash is not part of the JSON encoding: a transaction read back
// from the store is hashed by computeTxHash again.
func (tx *L1Transaction) SetHash(h Hash) { tx.hash = &h }

// Hash returns the transaction's identity, computing and caching it lazily.
func (tx *L1Transaction) Hash() Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	h := computeTxHash(tx)
	tx.hash = &h
	return h
}

// InputOutPoints returns the out-points this transaction consumes, in
// order. When the transaction is applied, the Local-Cell Manager moves
// exactly these out-points out of Locked and into In-flight, tagged by tx hash.
func (tx *L1Transaction) InputOutPoints() []OutPoint {
	out := make([]OutPoint, len(tx.Inputs))
	for i, in := range tx.Inputs {
		out[i] = in.PreviousOutput
	}
	return out
}

// ChainedOutPoints returns out-points for this transaction's own outputs,
// addressable as OutPoint{TxHash: tx.Hash(), Index: i}. A subsequent submit
// may legally consume these before the transaction is confirmed on L1
// (custodian cell chaining, spec.md §4.2).
func (tx *L1Transaction) ChainedOutPoints() []OutPoint {
	h := tx.Hash()
	out := make([]OutPoint, len(tx.Outputs))
	for i := range tx.Outputs {
		out[i] = OutPoint{TxHash: h, Index: uint32(i)}
	}
	return out
}

// Block is the subset of L2 block fields the PSC pipeline needs: its
// identity, timestamp (used to compute the submission `since`), and the
// withdrawals it contains (matched against WithdrawalExtra by hash).
type Block struct {
	Number        uint64   `json:"number"`
	Hash          Hash     `json:"hash"`
	TimestampMs   uint64   `json:"timestamp_ms"`
	Withdrawals   []Hash   `json:"withdrawal_hashes"`
	TxCount       int      `json:"tx_count"`
	DepositHashes []Hash   `json:"deposit_hashes,omitempty"`
}

// GlobalState is the post-block chain state root the submission transaction
// commits to. The pipeline treats it opaquely (a byte blob) since only
// BlockProducer.ComposeSubmitTx interprets its structure.
type GlobalState struct {
	Raw []byte `json:"raw"`
}

// WithdrawalExtra is the off-chain auxiliary record matching a withdrawal
// entry in a block body by hash (spec.md glossary).
type WithdrawalExtra struct {
	Hash    Hash   `json:"hash"`
	Request []byte `json:"request"`
}

// DepositInfo is a single deposit cell selected into a block, together with
// the on-chain request it satisfies.
type DepositInfo struct {
	Cell    CellWithOutPoint `json:"cell"`
	Request []byte           `json:"request"`
}

// CellWithOutPoint pairs a cell's output with the out-point identifying it,
// mirroring the shape the collector/indexer hands back for live cells.
type CellWithOutPoint struct {
	OutPoint OutPoint   `json:"out_point"`
	Output   CellOutput `json:"output"`
}

// CustodianCapacity is the residual custodian-cell capacity bookkeeping
// carried forward from one block's submission to the next.
type CustodianCapacity struct {
	Capacity *uint256.Int `json:"capacity"`
}

// ErrShortBuffer is the error for a byte slice too short to decode. No
// decoder in this module returns it; stored values are JSON.
var ErrShortBuffer = errors.New("rollup: buffer too short")

// computeTxHash derives the transaction's identity from its economic
// content only (inputs, outputs, cell deps) and deliberately ignores
// witnesses, so that resubmitting an unchanged transaction always yields
// the same identity (invariant L3 / spec.md §4.3 step 2 rationale). A hash
// pinned with L1Transaction.SetHash takes precedence in memory, but it is
// not persisted, so a transaction loaded from the store always uses this
// function.
func computeTxHash(tx *L1Transaction) Hash {
	h := sha256.New()
	for _, in := range tx.Inputs {
		h.Write(in.PreviousOutput.TxHash[:])
		writeUint64(h, uint64(in.PreviousOutput.Index))
		writeUint64(h, in.Since)
	}
	for _, out := range tx.Outputs {
		h.Write(out.Lock)
		h.Write(out.Type)
		if out.Capacity != nil {
			b := out.Capacity.Bytes32()
			h.Write(b[:])
		}
	}
	for _, dep := range tx.CellDeps {
		h.Write(dep.TxHash[:])
		writeUint64(h, uint64(dep.Index))
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
