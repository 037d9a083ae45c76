package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketsync/internal/model"
)

var (
	testBuyer  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSeller = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func purchasedLog(t *testing.T, itemID, price *big.Int) types.Log {
	t.Helper()

	marketABI, err := MarketplaceABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	abiEvent := marketABI.Events["ItemPurchased"]

	data, err := abiEvent.Inputs.NonIndexed().Pack(price)
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}

	return types.Log{
		Topics: []common.Hash{
			abiEvent.ID,
			common.BigToHash(itemID),
			addressTopic(testBuyer),
			addressTopic(testSeller),
		},
		Data:        data,
		BlockNumber: 100,
		BlockHash:   common.HexToHash("0xbeef"),
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
	}
}

func listedLog(t *testing.T, itemID, price *big.Int) types.Log {
	t.Helper()

	marketABI, err := MarketplaceABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	abiEvent := marketABI.Events["ItemListed"]

	data, err := abiEvent.Inputs.NonIndexed().Pack(price)
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}

	return types.Log{
		Topics: []common.Hash{
			abiEvent.ID,
			common.BigToHash(itemID),
			addressTopic(testSeller),
		},
		Data:        data,
		BlockNumber: 90,
		TxHash:      common.HexToHash("0xdef"),
		Index:       0,
	}
}

func TestDecodePurchased(t *testing.T) {
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	price, _ := new(big.Int).SetString("1500000000000000000", 10)
	event, err := decoder.DecodeLog(purchasedLog(t, big.NewInt(7), price), 1700000000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if event.Kind != model.EventItemPurchased {
		t.Fatalf("kind mismatch: %s", event.Kind)
	}
	if event.ContractItemID != "7" {
		t.Fatalf("item id mismatch: %s", event.ContractItemID)
	}
	if event.Buyer != testBuyer.Hex() {
		t.Fatalf("buyer mismatch: %s", event.Buyer)
	}
	if event.Seller != testSeller.Hex() {
		t.Fatalf("seller mismatch: %s", event.Seller)
	}
	if event.Amount != "1500000000000000000" {
		t.Fatalf("amount mismatch: %s", event.Amount)
	}
	if event.BlockNumber != 100 || event.LogIndex != 3 {
		t.Fatalf("position mismatch: %d/%d", event.BlockNumber, event.LogIndex)
	}
	if event.Timestamp != 1700000000 {
		t.Fatalf("timestamp mismatch: %d", event.Timestamp)
	}
}

func TestDecodeListed(t *testing.T) {
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	event, err := decoder.DecodeLog(listedLog(t, big.NewInt(12), big.NewInt(5000)), 1700000100)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if event.Kind != model.EventItemListed {
		t.Fatalf("kind mismatch: %s", event.Kind)
	}
	if event.ContractItemID != "12" {
		t.Fatalf("item id mismatch: %s", event.ContractItemID)
	}
	if event.Seller != testSeller.Hex() {
		t.Fatalf("seller mismatch: %s", event.Seller)
	}
	if event.Amount != "5000" {
		t.Fatalf("amount mismatch: %s", event.Amount)
	}
}

func TestCanDecode(t *testing.T) {
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	marketABI, _ := MarketplaceABI()
	if !decoder.CanDecode(marketABI.Events["ItemPurchased"].ID) {
		t.Fatalf("purchased topic not recognized")
	}
	if !decoder.CanDecode(marketABI.Events["ItemListed"].ID) {
		t.Fatalf("listed topic not recognized")
	}
	if decoder.CanDecode(common.HexToHash("0x1234")) {
		t.Fatalf("unknown topic recognized")
	}
	if len(decoder.Topics()) != 2 {
		t.Fatalf("expected 2 subscription topics, got %d", len(decoder.Topics()))
	}
}

func TestDecodeMalformed(t *testing.T) {
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	lg := purchasedLog(t, big.NewInt(7), big.NewInt(1))
	lg.Topics = lg.Topics[:2]
	if _, err := decoder.DecodeLog(lg, 0); !model.IsDecode(err) {
		t.Fatalf("expected decode error for missing topics, got %v", err)
	}

	lg = purchasedLog(t, big.NewInt(7), big.NewInt(1))
	lg.Data = lg.Data[:8]
	if _, err := decoder.DecodeLog(lg, 0); !model.IsDecode(err) {
		t.Fatalf("expected decode error for truncated data, got %v", err)
	}

	if _, err := decoder.DecodeLog(types.Log{}, 0); !model.IsDecode(err) {
		t.Fatalf("expected decode error for empty log, got %v", err)
	}
}
