package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func ReplyKeyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	if isAdmin {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/status"),
				tgbotapi.NewKeyboardButton("/help"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/stats"),
				tgbotapi.NewKeyboardButton("/servers"),
				tgbotapi.NewKeyboardButton("/backup"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/help"),
		),
	)
}

// openAppKeyboard кнопка со ссылкой на Mini App.
func openAppKeyboard(webAppURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть приложение", webAppURL),
		),
	)
}
