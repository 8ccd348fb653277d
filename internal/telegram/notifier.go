package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
)

// Notifier delivers best-effort trade and status messages. Delivery failures
// are logged and swallowed; they must never reach the trading loops.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

// Notify sends a free-form message tagged with a category.
func (n *Notifier) Notify(message, category string) {
	if category != "" {
		message = fmt.Sprintf("[%s] %s", category, message)
	}
	n.send(message)
}

func (n *Notifier) NotifyOpen(symbol string, price, qty, notional float64) {
	n.send(fmt.Sprintf("🟢 *OPEN* %s\nPrice: %.6f\nQty: %.6f\nSize: %.2f USDC",
		symbol, price, qty, notional))
}

func (n *Notifier) NotifyClose(symbol string, price, pnlUSDC, pnlPct float64, reason string) {
	emoji := "🔴"
	if pnlUSDC > 0 {
		emoji = "💰"
	}
	n.send(fmt.Sprintf("%s *CLOSE* %s\nPrice: %.6f\nP&L: %+.2f USDC (%+.2f%%)\nReason: %s",
		emoji, symbol, price, pnlUSDC, pnlPct, reason))
}

func (n *Notifier) NotifyError(context string, err error) {
	n.send(fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err))
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
