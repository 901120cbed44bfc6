package convo

import (
	"fmt"
	"strconv"
	"strings"

	"gifty-bot/internal/gifty"
	"gifty-bot/internal/tg"
)

// User-facing copy. The backend composes redeem transaction texts itself; the
// engine only relays those.
const (
	msgWelcome      = "Hi, welcome to Gifty!"
	msgSelectAmount = "Select the amount:"

	msgPaymentLink    = "Please complete the payment using the link below."
	msgNoPaymentLink  = "We could not retrieve the payment link."
	msgPurchaseError  = "There was an error processing your purchase. Please try again."
	msgGenericError   = "An error occurred while processing your request."
	msgPaymentSuccess = "Your payment was successful! Thank you for your purchase."
	msgPaymentFailed  = "Your payment was not successful. Please try again."

	msgNoGiftCards  = "You have no gift cards to redeem yet."
	msgChooseCard   = "Choose a gift card:"
	msgCardNotFound = "No matching active gift card. Pick one from the list again."

	msgEnterRedeemCode  = "Send the gift card code you want to redeem."
	msgAwaitingCustomer = "Waiting for the customer to validate the redemption."

	msgUnknownAction = "That action is not available right now. Use the menu below."

	msgAskNIT           = "Let's register your shop. What is your NIT?"
	msgAskName          = "What is your shop's name?"
	msgAskEmail         = "What is your shop's contact email?"
	msgAskPhone         = "What is your shop's phone number?"
	msgOnboardCancelled = "Shop registration cancelled."
)

func mainMenu() tg.Keyboard {
	return tg.Keyboard{
		{{Label: "Buy", Data: callbackBuy}},
		{{Label: "Redeem", Data: callbackRedeem}},
		{{Label: "I have a shop", Data: callbackShop}},
	}
}

func shopMenu() tg.Keyboard {
	return tg.Keyboard{
		{{Label: "Redeem a code", Data: callbackShopRedeem}},
	}
}

func amountKeyboard() tg.Keyboard {
	kb := make(tg.Keyboard, 0, len(amountTiers))
	for _, tier := range amountTiers {
		kb = append(kb, []tg.Button{{
			Label: formatAmount(tier),
			Data:  strconv.FormatInt(tier, 10),
		}})
	}
	return kb
}

func payKeyboard(url string) tg.Keyboard {
	return tg.Keyboard{
		{{Label: "Pay", URL: url}},
	}
}

func cardsKeyboard(cards []gifty.GiftCard) tg.Keyboard {
	kb := make(tg.Keyboard, 0, len(cards))
	for _, card := range cards {
		kb = append(kb, []tg.Button{{
			Label: fmt.Sprintf("%s — %s", card.Code, formatBalance(card.Balance)),
			Data:  cardPrefix + card.Code,
		}})
	}
	return kb
}

func confirmKeyboard(transactionID string) tg.Keyboard {
	return tg.Keyboard{
		{{Label: "Confirm", Data: confirmPrefix + transactionID}},
		{{Label: "Reject", Data: rejectPrefix + transactionID}},
	}
}

func giftCardDetail(card gifty.GiftCard) string {
	var b strings.Builder
	b.WriteString("Gift card ")
	b.WriteString(card.Code)
	b.WriteString("\n")
	if card.Status != "" {
		b.WriteString("Status: ")
		b.WriteString(card.Status)
		b.WriteString("\n")
	}
	b.WriteString("Balance: ")
	b.WriteString(formatBalance(card.Balance))
	if card.ExpiresAt != "" {
		b.WriteString("\nExpires: ")
		b.WriteString(card.ExpiresAt)
	}
	return b.String()
}

func shopCreatedMessage(shop *gifty.Shop) string {
	var b strings.Builder
	b.WriteString("Your shop is registered!\n")
	b.WriteString("Name: ")
	b.WriteString(shop.Name)
	b.WriteString("\nNIT: ")
	b.WriteString(shop.NIT)
	b.WriteString("\nEmail: ")
	b.WriteString(shop.Email)
	b.WriteString("\nPhone: ")
	b.WriteString(shop.Phone)
	return b.String()
}

func shopGreeting(shop *gifty.Shop) string {
	if shop.Name == "" {
		return "Welcome back to your shop!"
	}
	return fmt.Sprintf("Welcome back, %s!", shop.Name)
}

// formatAmount renders an integer amount with thousands separators.
func formatAmount(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}

func formatBalance(balance float64) string {
	return "$" + formatAmount(int64(balance))
}
