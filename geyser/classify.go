// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package geyser classifies and keys Yellowstone Geyser updates, per
// §4.E: an exhaustive switch over the update's one-of variant
// extracting slot and, for Transaction, a canonical JSON payload.
package geyser

import (
	"log/slog"

	"google.golang.org/protobuf/encoding/protojson"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// UpdateKind classifies a Geyser update for metrics cardinality only;
// it carries no semantics beyond a label.
type UpdateKind int

const (
	KindUnknown UpdateKind = iota
	KindAccount
	KindSlot
	KindTransaction
	KindTransactionStatus
	KindBlock
	KindBlockMeta
	KindEntry
)

// String renders the kind as a Prometheus label value.
func (k UpdateKind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindSlot:
		return "slot"
	case KindTransaction:
		return "transaction"
	case KindTransactionStatus:
		return "transaction_status"
	case KindBlock:
		return "block"
	case KindBlockMeta:
		return "block_meta"
	case KindEntry:
		return "entry"
	default:
		return "unknown"
	}
}

// Classify extracts slot, kind, and (for Transaction only) a payload
// from update. ok is false when the update should not be published:
// every variant other than Transaction (Ping/Pong included), and a
// Transaction whose info is missing or cannot be serialized. log
// receives a warning in the Transaction failure cases without failing
// the pipeline, per §4.E/§7.
func Classify(log *slog.Logger, update *pb.SubscribeUpdate) (slot uint64, kind UpdateKind, payload []byte, ok bool) {
	switch v := update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Account:
		return v.Account.GetSlot(), KindAccount, nil, false
	case *pb.SubscribeUpdate_Slot:
		return v.Slot.GetSlot(), KindSlot, nil, false
	case *pb.SubscribeUpdate_Transaction:
		return classifyTransaction(log, v)
	case *pb.SubscribeUpdate_TransactionStatus:
		return v.TransactionStatus.GetSlot(), KindTransactionStatus, nil, false
	case *pb.SubscribeUpdate_Block:
		return v.Block.GetSlot(), KindBlock, nil, false
	case *pb.SubscribeUpdate_BlockMeta:
		return v.BlockMeta.GetSlot(), KindBlockMeta, nil, false
	case *pb.SubscribeUpdate_Entry:
		return v.Entry.GetSlot(), KindEntry, nil, false
	case *pb.SubscribeUpdate_Ping:
		return 0, KindUnknown, nil, false
	case *pb.SubscribeUpdate_Pong:
		return 0, KindUnknown, nil, false
	default:
		return 0, KindUnknown, nil, false
	}
}

func classifyTransaction(log *slog.Logger, v *pb.SubscribeUpdate_Transaction) (uint64, UpdateKind, []byte, bool) {
	slot := v.Transaction.GetSlot()

	info := v.Transaction.GetTransaction()
	if info == nil {
		log.Warn("dropping transaction update with no transaction info", slog.Uint64("slot", slot))
		return slot, KindTransaction, nil, false
	}

	payload, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(info)
	if err != nil {
		log.Warn(
			"failed to decode transaction update, dropping",
			slog.Uint64("slot", slot),
			slog.Any("error", err),
		)
		return slot, KindTransaction, nil, false
	}

	return slot, KindTransaction, payload, true
}
