// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import "encoding/binary"

// Key schema: fixed prefixes followed by a big-endian block number, the
// same convention core/rawdb uses for header/body/receipt keys in this
// codebase's lineage.
var (
	lastValidKey     = []byte("l") // last_valid_tip_block
	lastSubmittedKey = []byte("s") // last_submitted_block_number_hash
	lastConfirmedKey = []byte("c") // last_confirmed_block_number_hash

	blockHashByNumberPrefix = []byte("bh-") // blockHashByNumberPrefix + num -> block hash
	blockPrefix             = []byte("b-")  // blockPrefix + hash -> encoded Block
	globalStatePrefix       = []byte("gs-") // globalStatePrefix + hash -> encoded GlobalState

	submitTxPrefix           = []byte("tx-")  // submitTxPrefix + num -> encoded L1Transaction
	depositInfoVecPrefix     = []byte("dep-") // depositInfoVecPrefix + num -> encoded []DepositInfo
	custodianCapacityPrefix  = []byte("cap-") // custodianCapacityPrefix + num -> encoded CustodianCapacity
	withdrawalByKeyPrefix    = []byte("wd-")  // withdrawalByKeyPrefix + blockHash||index -> encoded WithdrawalExtra
)

func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func numberKey(prefix []byte, number uint64) []byte {
	return append(append([]byte{}, prefix...), encodeBlockNumber(number)...)
}

func hashKey(prefix []byte, hash [32]byte) []byte {
	return append(append([]byte{}, prefix...), hash[:]...)
}

func withdrawalKey(blockHash [32]byte, index uint32) []byte {
	key := append(append([]byte{}, withdrawalByKeyPrefix...), blockHash[:]...)
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, index)
	return append(key, idx...)
}
