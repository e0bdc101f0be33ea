package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"okoshko/internal/apiclient"
	"okoshko/internal/config"
	"okoshko/internal/events"
	"okoshko/internal/export"
	"okoshko/internal/service"
	"okoshko/internal/slots"
	"okoshko/internal/storage"
	"okoshko/internal/storage/sheets"
	"okoshko/internal/storage/sqlite"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// The bot is the entry point into the WebApp: /start hands out the
// mini-app button, admins get ledger export on top.
func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("OKOSHKO_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Telegram.BotToken == "" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := sqlite.New(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open sqlite store")
	}
	defer local.Close()

	var store storage.Store = local
	if cfg.Sheets.SpreadsheetID != "" && cfg.Sheets.CredentialsFile != "" {
		primary, err := sheets.New(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open sheets store")
		}
		store = storage.NewFailoverStore(primary, local, &logger)
	}

	loc := time.Local
	if cfg.Booking.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Booking.Timezone)
		if err != nil {
			logger.Fatal().Err(err).Str("timezone", cfg.Booking.Timezone).Msg("load timezone")
		}
	}
	svc := service.New(store, events.NewBus(), slots.NewGenerator(loc), &logger)

	client := apiclient.New(fmt.Sprintf("http://127.0.0.1:%d/exec", cfg.Server.Port))
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client.UseRedisCache(rdb, time.Minute)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot")
	}
	logger.Info().Str("username", bot.Self.UserName).Msg("bot started")

	admins := make(map[int64]bool, len(cfg.Admin.IDs))
	for _, id := range cfg.Admin.IDs {
		admins[id] = true
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			handleCommand(ctx, bot, svc, client, admins, cfg.Telegram.WebAppURL, update.Message, &logger)
		}
	}
}

func handleCommand(ctx context.Context, bot *tgbotapi.BotAPI, svc *service.BookingService, client *apiclient.Client, admins map[int64]bool, webAppURL string, msg *tgbotapi.Message, logger *zerolog.Logger) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		reply := tgbotapi.NewMessage(chatID, "Запишитесь на сессию через мини-приложение:")
		if webAppURL != "" {
			reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.InlineKeyboardButton{
					Text:   "📅 Записаться",
					WebApp: &tgbotapi.WebAppInfo{URL: webAppURL},
				}),
			)
		}
		send(bot, reply, logger)

	case "slots":
		m, err := client.GetSlots(ctx)
		if err != nil {
			send(bot, tgbotapi.NewMessage(chatID, "Не удалось получить слоты."), logger)
			return
		}
		var sb strings.Builder
		sb.WriteString("Свободные места:\n")
		total := 0
		for key, list := range m {
			if len(list) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "• %s — %d\n", key, len(list))
			total += len(list)
		}
		if total == 0 {
			sb.Reset()
			sb.WriteString("Свободных мест нет.")
		}
		send(bot, tgbotapi.NewMessage(chatID, sb.String()), logger)

	case "export":
		if !admins[msg.From.ID] {
			send(bot, tgbotapi.NewMessage(chatID, "Команда доступна только администраторам."), logger)
			return
		}
		bookings, err := svc.ListBookings(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("list bookings for export")
			send(bot, tgbotapi.NewMessage(chatID, "Не удалось выгрузить записи."), logger)
			return
		}
		data, err := export.BookingsXLSX(bookings)
		if err != nil {
			logger.Error().Err(err).Msg("build export workbook")
			send(bot, tgbotapi.NewMessage(chatID, "Не удалось выгрузить записи."), logger)
			return
		}
		name := fmt.Sprintf("bookings_%s.xlsx", time.Now().Format("20060102"))
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
		if _, err := bot.Send(doc); err != nil {
			logger.Error().Err(err).Msg("send export document")
		}

	case "purge":
		if !admins[msg.From.ID] {
			send(bot, tgbotapi.NewMessage(chatID, "Команда доступна только администраторам."), logger)
			return
		}
		removed, err := svc.PurgeExpired(ctx, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("purge expired slots")
			send(bot, tgbotapi.NewMessage(chatID, "Не удалось удалить прошедшие слоты."), logger)
			return
		}
		send(bot, tgbotapi.NewMessage(chatID, fmt.Sprintf("Удалено прошедших слотов: %d", removed)), logger)

	default:
		send(bot, tgbotapi.NewMessage(chatID, "Доступные команды: /start, /slots, /export, /purge"), logger)
	}
}

func send(bot *tgbotapi.BotAPI, c tgbotapi.Chattable, logger *zerolog.Logger) {
	if _, err := bot.Send(c); err != nil {
		logger.Error().Err(err).Msg("send message")
	}
}
