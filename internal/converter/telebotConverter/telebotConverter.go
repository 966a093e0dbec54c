package telebotConverter

import (
	"fmt"
	"strings"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/tg/tgCommand"
	"github.com/KotFed0t/basket_rebalancer/internal/rebalancer"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"
)

const dateLayout = "02.01.2006 15:04"

func BasketResponse(portfolio model.Portfolio, symbol string, additionalCapital decimal.Decimal) (text string, markup *tele.ReplyMarkup) {
	markup = &tele.ReplyMarkup{}
	var sb strings.Builder

	sb.WriteString("📊 Basket\n")
	sb.WriteString(fmt.Sprintf("💰 Value: %s\n", rebalancer.FormatCurrency(symbol, portfolio.TotalValue)))
	sb.WriteString(fmt.Sprintf(" - Current weight %s\n", rebalancer.FormatPercent(portfolio.TotalCurrentWeight)))
	sb.WriteString(fmt.Sprintf(" - Target weight %s\n", rebalancer.FormatPercent(portfolio.TotalTargetWeight)))
	sb.WriteString(fmt.Sprintf("➕ Additional capital: %s\n\n", rebalancer.FormatCurrency(symbol, additionalCapital)))

	for i, h := range portfolio.Holdings {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, h.Ticker))
		sb.WriteString(fmt.Sprintf("   ▸ Shares: %d\n", h.SharesHeld))
		if h.Price.Valid {
			sb.WriteString(fmt.Sprintf("   ▸ Price: %s\n", rebalancer.FormatCurrency(symbol, h.Price.Decimal)))
			sb.WriteString(fmt.Sprintf("   ▸ Value: %s\n", rebalancer.FormatCurrency(symbol, h.CurrentValue.Decimal)))
		} else {
			sb.WriteString("   ▸ Price: not found\n")
		}
		sb.WriteString(fmt.Sprintf("   ▸ Weight: %s of %s\n\n", rebalancer.FormatPercent(h.CurrentWeight), rebalancer.FormatPercent(h.TargetWeight)))
	}

	if unpriced := portfolio.Unpriced(); len(unpriced) > 0 {
		sb.WriteString(fmt.Sprintf("⚠️ No price for %s, these holdings are left out.\n", strings.Join(unpriced, ", ")))
	}

	markup.Inline(
		markup.Row(
			markup.Data("⚖️ Rebalance", tgCommand.RebalanceBtn),
			markup.Data("➕ Capital", tgCommand.SetCapitalBtn),
		),
		markup.Row(
			markup.Data("🔄 Reset prices", tgCommand.ResetPriceBtn),
			markup.Data("📤 Upload basket", tgCommand.UploadBtn),
		),
	)

	return sb.String(), markup
}

func AllocationResponse(allocation model.Allocation, symbol string) string {
	var sb strings.Builder

	sb.WriteString("⚖️ Rebalanced basket\n")
	sb.WriteString(fmt.Sprintf("💰 Current value: %s\n", rebalancer.FormatCurrency(symbol, allocation.TotalCurrentValue)))
	sb.WriteString(fmt.Sprintf("➕ Additional capital: %s\n", rebalancer.FormatCurrency(symbol, allocation.AdditionalCapital)))
	sb.WriteString(fmt.Sprintf("🎯 Target value: %s\n", rebalancer.FormatCurrency(symbol, allocation.TotalTargetValueActual)))
	if trades := len(allocation.Trades()); trades > 0 {
		sb.WriteString(fmt.Sprintf("🔁 Trades: %d\n\n", trades))
	} else {
		sb.WriteString("✅ The basket is on target, nothing to trade\n\n")
	}

	for _, row := range allocation.Rows {
		sb.WriteString(fmt.Sprintf("%s %s\n", actionEmoji(row.Action), row.Ticker))
		if !row.Price.Valid {
			sb.WriteString("   ▸ no price, hold\n\n")
			continue
		}
		sb.WriteString(fmt.Sprintf("   ▸ %s %d (%d → %d)\n", row.Action, abs(row.SharesDelta), row.SharesHeld, row.TargetShares))
		sb.WriteString(fmt.Sprintf("   ▸ Value: %s → %s\n",
			rebalancer.FormatCurrency(symbol, row.CurrentValue.Decimal),
			rebalancer.FormatCurrency(symbol, row.TargetValueActual.Decimal),
		))
		sb.WriteString(fmt.Sprintf("   ▸ Weight: %s → %s (target %s)\n\n",
			rebalancer.FormatPercent(row.CurrentWeight),
			rebalancer.FormatPercent(row.RealWeight),
			rebalancer.FormatPercent(row.TargetWeight),
		))
	}

	return sb.String()
}

// SuggestionResponse is shown when no capital was added but buying the whole
// allocation needs more cash. Empty otherwise.
func SuggestionResponse(allocation model.Allocation, symbol string) string {
	suggested := allocation.SuggestedAdditionalAmount()
	if !allocation.AdditionalCapital.IsZero() || !suggested.IsPositive() {
		return ""
	}
	return fmt.Sprintf("💡 Suggested additional amount: %s", rebalancer.FormatCurrency(symbol, suggested))
}

func HistoryResponse(operations []model.RebalanceOperation, symbol string) string {
	if len(operations) == 0 {
		return "No rebalances yet"
	}

	var sb strings.Builder
	sb.WriteString("🕓 Latest operations\n\n")
	for _, operation := range operations {
		price := "-"
		if operation.Price.Valid {
			price = rebalancer.FormatCurrency(symbol, operation.Price.Decimal)
		}
		sb.WriteString(fmt.Sprintf("%s %s %s %d @ %s\n",
			operation.DtCreate.Format(dateLayout),
			actionEmoji(operation.Action),
			operation.Ticker,
			abs(operation.SharesDelta),
			price,
		))
	}
	return sb.String()
}

func ValidationResponse(messages []string) string {
	var sb strings.Builder
	sb.WriteString("❌ The basket is invalid:\n")
	for _, msg := range messages {
		sb.WriteString(fmt.Sprintf(" - %s\n", msg))
	}
	return sb.String()
}

func actionEmoji(action model.Action) string {
	switch action {
	case model.ActionBuy:
		return "🟢"
	case model.ActionSell:
		return "🔴"
	default:
		return "⚪"
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
