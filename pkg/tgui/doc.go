// Package tgui holds the small HTML helpers used to build Telegram messages
// sent with ParseMode="HTML".
package tgui
