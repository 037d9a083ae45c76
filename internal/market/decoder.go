package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketsync/internal/model"
)

// EventDecoder turns raw marketplace contract logs into ledger events.
type EventDecoder struct {
	marketABI   abi.ABI
	topicToKind map[common.Hash]model.EventKind
}

// NewEventDecoder builds a decoder for the marketplace events.
func NewEventDecoder() (*EventDecoder, error) {
	marketABI, err := MarketplaceABI()
	if err != nil {
		return nil, err
	}

	topicToKind := map[common.Hash]model.EventKind{
		marketABI.Events["ItemListed"].ID:    model.EventItemListed,
		marketABI.Events["ItemPurchased"].ID: model.EventItemPurchased,
	}

	return &EventDecoder{
		marketABI:   marketABI,
		topicToKind: topicToKind,
	}, nil
}

// Topics returns the topic0 hashes to subscribe for.
func (d *EventDecoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.topicToKind))
	for topic := range d.topicToKind {
		out = append(out, topic)
	}
	return out
}

// CanDecode checks if the topic0 belongs to a marketplace event.
func (d *EventDecoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToKind[topic0]
	return ok
}

// DecodeLog converts a raw log into a LedgerEvent. Malformed payloads come
// back as model.DecodeError.
func (d *EventDecoder) DecodeLog(log types.Log, timestamp uint64) (*model.LedgerEvent, error) {
	if len(log.Topics) == 0 {
		return nil, model.Decode(fmt.Errorf("missing topic0"))
	}
	kind, ok := d.topicToKind[log.Topics[0]]
	if !ok {
		return nil, model.Decode(fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex()))
	}

	event := model.LedgerEvent{
		Kind:        kind,
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		LogIndex:    uint64(log.Index),
		Timestamp:   timestamp,
	}

	switch kind {
	case model.EventItemListed:
		if err := d.decodeListed(log, &event); err != nil {
			return nil, err
		}
	case model.EventItemPurchased:
		if err := d.decodePurchased(log, &event); err != nil {
			return nil, err
		}
	}

	return &event, nil
}

func (d *EventDecoder) decodeListed(log types.Log, out *model.LedgerEvent) error {
	abiEvent := d.marketABI.Events["ItemListed"]
	if err := checkTopicCount(abiEvent, log.Topics); err != nil {
		return err
	}

	var indexed struct {
		ItemId *big.Int
		Seller common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), log.Topics[1:]); err != nil {
		return model.Decode(fmt.Errorf("parse topics: %w", err))
	}

	values, err := abiEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Decode(fmt.Errorf("unpack %s: %w", abiEvent.Name, err))
	}
	if len(values) != 1 {
		return model.Decode(fmt.Errorf("unexpected listed values: %d", len(values)))
	}
	price, err := asBigInt(values[0])
	if err != nil {
		return model.Decode(err)
	}

	out.ContractItemID = indexed.ItemId.String()
	out.Seller = indexed.Seller.Hex()
	out.Amount = price.String()
	return nil
}

func (d *EventDecoder) decodePurchased(log types.Log, out *model.LedgerEvent) error {
	abiEvent := d.marketABI.Events["ItemPurchased"]
	if err := checkTopicCount(abiEvent, log.Topics); err != nil {
		return err
	}

	var indexed struct {
		ItemId *big.Int
		Buyer  common.Address
		Seller common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(abiEvent.Inputs), log.Topics[1:]); err != nil {
		return model.Decode(fmt.Errorf("parse topics: %w", err))
	}

	values, err := abiEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Decode(fmt.Errorf("unpack %s: %w", abiEvent.Name, err))
	}
	if len(values) != 1 {
		return model.Decode(fmt.Errorf("unexpected purchased values: %d", len(values)))
	}
	price, err := asBigInt(values[0])
	if err != nil {
		return model.Decode(err)
	}

	out.ContractItemID = indexed.ItemId.String()
	out.Buyer = indexed.Buyer.Hex()
	out.Seller = indexed.Seller.Hex()
	out.Amount = price.String()
	return nil
}

func checkTopicCount(event abi.Event, topics []common.Hash) error {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return model.Decode(fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics)))
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
