package convo

import (
	"strconv"
	"strings"
)

// CommandKind identifies the action a callback payload requests.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdBuy
	CmdSelectAmount
	CmdRedeem
	CmdSelectCard
	CmdShopStart
	CmdShopRedeemStart
	CmdRedeemConfirm
	CmdRedeemReject
)

// Callback payload constants. The double-underscore delimiter separates an
// action tag from its argument.
const (
	callbackBuy        = "buy"
	callbackRedeem     = "redeem"
	callbackShop       = "shop"
	callbackShopRedeem = "shop_redeem"

	cardPrefix    = "card__"
	confirmPrefix = "redeem_confirm__"
	rejectPrefix  = "redeem_reject__"
)

// amountTiers is the fixed set of purchasable amounts.
var amountTiers = []int64{10000, 30000, 50000, 100000}

// Command is a callback payload parsed into a tagged variant.
type Command struct {
	Kind          CommandKind
	Amount        int64
	Code          string
	TransactionID string
}

// ParseCallback parses raw callback data once at ingress. Anything that does
// not match a known action comes back as CmdUnknown.
func ParseCallback(data string) Command {
	data = strings.TrimSpace(data)

	switch data {
	case callbackBuy:
		return Command{Kind: CmdBuy}
	case callbackRedeem:
		return Command{Kind: CmdRedeem}
	case callbackShop:
		return Command{Kind: CmdShopStart}
	case callbackShopRedeem:
		return Command{Kind: CmdShopRedeemStart}
	}

	if code, ok := strings.CutPrefix(data, cardPrefix); ok && code != "" {
		return Command{Kind: CmdSelectCard, Code: code}
	}
	if id, ok := strings.CutPrefix(data, confirmPrefix); ok && id != "" {
		return Command{Kind: CmdRedeemConfirm, TransactionID: id}
	}
	if id, ok := strings.CutPrefix(data, rejectPrefix); ok && id != "" {
		return Command{Kind: CmdRedeemReject, TransactionID: id}
	}

	if amount, err := strconv.ParseInt(data, 10, 64); err == nil && validAmount(amount) {
		return Command{Kind: CmdSelectAmount, Amount: amount}
	}

	return Command{Kind: CmdUnknown}
}

func validAmount(amount int64) bool {
	for _, tier := range amountTiers {
		if tier == amount {
			return true
		}
	}
	return false
}
