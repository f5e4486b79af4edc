package wizard

import (
	"fmt"
	"strings"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

// Button payloads owned by the state machine.
const (
	DataTagPrefix = "wiz:tag:"
	DataTagsDone  = "wiz:done"
	DataSkipImage = "wiz:skip"
	DataConfirm   = "wiz:confirm"
	DataCancel    = "wiz:cancel"
	DataBetPrefix = "bet:"
)

// DefaultTags are the selectable market categories.
var DefaultTags = []string{
	"Crypto", "Finance", "Sports", "Politics",
	"Tech", "Entertainment", "World", "Other",
}

const (
	promptQuestion = "Step 1/6: What question should the market answer? (10-200 characters)"
	promptOptionA  = "Step 2/6: Enter the first option, e.g. \"Yes\". (1-50 characters)"
	promptOptionB  = "Step 3/6: Enter the second option, e.g. \"No\". (1-50 characters)"
	promptEndTime  = "Step 4/6: When does the market end? Send a date such as 2030-01-01 or 2030-01-01 18:00 (UTC)."
	promptImage    = "Step 5/6: Send an image for the market, or type skip."
	promptTags     = "Step 6/6: Pick categories, then press Done."

	msgQuestionInvalid = "The question must be between 10 and 200 characters. Please try again."
	msgOptionInvalid   = "Options must be between 1 and 50 characters. Please try again."
	msgEndTimeInvalid  = "I couldn't read that as a future date. Try a format like 2030-01-01."
	msgImageInvalid    = "Please send an image, or type skip."
	msgImageFailed     = "That image could not be uploaded. Send another one, or type skip."
	msgImageDisabled   = "Image uploads are not available right now. Type skip to continue."
	msgUseTagButtons   = "Use the buttons above to pick categories, then press Done."
	msgUseConfirm      = "Press Confirm to create the market, or Cancel."
	msgCancelled       = "Cancelled."
	msgNothingToCancel = "Nothing to cancel."
	msgExpired         = "This action has expired. Start again from the menu."
	msgSubmitting      = "Your previous request is still being submitted. Please wait."
	msgNoWallet        = "You don't have a wallet yet. Send /start first."
	msgReaderDown      = "I couldn't read the epoch status right now. Press Confirm to try again, or Cancel."
	msgListingExpired  = "That listing has expired. Run /markets again."
	msgMarketClosed    = "This market has already ended."
	msgAddressInvalid  = "That is not a valid address. Send a 0x address."
	promptWithdrawTo   = "Send the address to withdraw to."
)

func cancelKeyboard() domain.Keyboard {
	return domain.Keyboard{{{Label: "Cancel", Data: DataCancel}}}
}

func imageKeyboard() domain.Keyboard {
	return domain.Keyboard{{
		{Label: "Skip", Data: DataSkipImage},
		{Label: "Cancel", Data: DataCancel},
	}}
}

// tagKeyboard renders the multi-select grid, two categories per row.
func tagKeyboard(tags []string, c *session.CreateMarket) domain.Keyboard {
	kb := domain.Keyboard{}
	var row []domain.Button
	for _, tag := range tags {
		label := tag
		if c.HasTag(tag) {
			label = "✅ " + tag
		}
		row = append(row, domain.Button{Label: label, Data: DataTagPrefix + tag})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return append(kb, []domain.Button{
		{Label: "Done", Data: DataTagsDone},
		{Label: "Cancel", Data: DataCancel},
	})
}

func tagPrompt(c *session.CreateMarket) string {
	if len(c.SelectedTags) == 0 {
		return promptTags
	}
	return promptTags + "\nSelected: " + strings.Join(c.SelectedTags, ", ")
}

func confirmKeyboard() domain.Keyboard {
	return domain.Keyboard{{
		{Label: "Confirm", Data: DataConfirm},
		{Label: "Cancel", Data: DataCancel},
	}}
}

// DisplayTags renders a frozen tag string for people.
func DisplayTags(tags string) string {
	if tags == "" {
		return "none"
	}
	return strings.Join(strings.Split(tags, ","), ", ")
}

func confirmation(c *session.CreateMarket) string {
	image := c.ImageURL
	if image == "" {
		image = "none"
	}
	var b strings.Builder
	b.WriteString("Please confirm your market:\n\n")
	fmt.Fprintf(&b, "Question: %s\n", c.Question)
	fmt.Fprintf(&b, "Option A: %s\n", c.OptionA)
	fmt.Fprintf(&b, "Option B: %s\n", c.OptionB)
	fmt.Fprintf(&b, "Ends: %s\n", c.EndTimeUTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Image: %s\n", image)
	fmt.Fprintf(&b, "Tags: %s", DisplayTags(c.Tags))
	return b.String()
}

func created(res domain.CreatedMarket) string {
	if res.Market == nil {
		return fmt.Sprintf("Market submitted in transaction %s, but I couldn't read its address yet. It will appear in /markets shortly.", res.TxHash.Hex())
	}
	return fmt.Sprintf("Market created!\nAddress: %s\nTransaction: %s", res.Market.Address.Hex(), res.TxHash.Hex())
}

// MarketCard renders a market listing entry.
func MarketCard(ref domain.MarketRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ref.Question)
	fmt.Fprintf(&b, "A: %s | B: %s\n", ref.OptionA, ref.OptionB)
	fmt.Fprintf(&b, "Ends: %s", ref.EndTime.UTC().Format("2006-01-02 15:04 UTC"))
	if ref.Tags != "" {
		fmt.Fprintf(&b, "\nTags: %s", DisplayTags(ref.Tags))
	}
	return b.String()
}

// BetKeyboard renders the Bet A / Bet B buttons for a cached market.
func BetKeyboard(token string, ref domain.MarketRef) domain.Keyboard {
	return domain.Keyboard{{
		{Label: "Bet " + ref.OptionA, Data: DataBetPrefix + token + ":" + domain.SideA.String()},
		{Label: "Bet " + ref.OptionB, Data: DataBetPrefix + token + ":" + domain.SideB.String()},
	}}
}

// FormatPhase renders an epoch phase for people.
func FormatPhase(p domain.EpochPhase) string {
	return strings.ReplaceAll(p.String(), "_", " ")
}
