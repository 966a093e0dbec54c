package tgbot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/data/session"
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/tg/tgCommand"
	"github.com/KotFed0t/basket_rebalancer/internal/transport/telegram"
	customMW "github.com/KotFed0t/basket_rebalancer/internal/transport/telegram/middleware"
	"github.com/KotFed0t/basket_rebalancer/utils"
	tele "gopkg.in/telebot.v4"
	"gopkg.in/telebot.v4/middleware"
)

type Session interface {
	GetSession(ctx context.Context, chatID int64) (model.Session, error)
}

type TGBot struct {
	bot     *tele.Bot
	ctrl    *telegram.Controller
	session Session
}

func New(cfg *config.Config, ctrl *telegram.Controller, session Session) *TGBot {
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Telegram.UpdTimeout},
	}

	b, err := tele.NewBot(settings)
	if err != nil {
		slog.Error("error while tele.NewBot", slog.String("err", err.Error()))
		panic(err)
	}

	return &TGBot{bot: b, ctrl: ctrl, session: session}
}

func (b *TGBot) Start() {
	b.bot.Use(middleware.Recover(), customMW.Logger())

	b.setupRoutes()

	err := b.bot.SetCommands([]tele.Command{
		{Text: tgCommand.Basket, Description: "current basket and weights"},
		{Text: tgCommand.Capital, Description: "cash to invest on the next rebalance"},
		{Text: tgCommand.Rebalance, Description: "shares to buy and sell"},
		{Text: tgCommand.ResetPrices, Description: "fetch fresh prices"},
		{Text: tgCommand.Template, Description: "basket file to fill in"},
		{Text: tgCommand.History, Description: "latest computed operations"},
	})
	if err != nil {
		slog.Warn("can't set bot commands", slog.String("err", err.Error()))
	}

	go b.bot.Start()
	slog.Info("tgbot started!")
}

func (b *TGBot) Stop() {
	slog.Info("start stopping tgbot")
	b.bot.Stop()
	slog.Info("tgbot stopped")
}

func (b *TGBot) setupRoutes() {
	b.bot.Handle(tele.OnText, b.routeText)

	b.bot.Handle(tele.OnDocument, b.ctrl.ProcessDocument)

	b.bot.Handle(tgCommand.Start, b.ctrl.Start)
	b.bot.Handle(tgCommand.Basket, b.ctrl.Basket)
	b.bot.Handle(tgCommand.Capital, b.ctrl.Capital)
	b.bot.Handle(tgCommand.Rebalance, b.ctrl.Rebalance)
	b.bot.Handle(tgCommand.ResetPrices, b.ctrl.ResetPrices)
	b.bot.Handle(tgCommand.Template, b.ctrl.Template)
	b.bot.Handle(tgCommand.History, b.ctrl.History)

	b.bot.Handle("\f"+tgCommand.RebalanceBtn, b.ctrl.Rebalance)
	b.bot.Handle("\f"+tgCommand.SetCapitalBtn, b.ctrl.Capital)
	b.bot.Handle("\f"+tgCommand.ResetPriceBtn, b.ctrl.ResetPrices)
	b.bot.Handle("\f"+tgCommand.UploadBtn, b.ctrl.InitUpload)
}

// routeText picks the controller method for a plain text by the step of the chat.
func (b *TGBot) routeText(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	chatSession, err := b.session.GetSession(ctx, c.Chat().ID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Error("got error from session.GetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send("something went wrong...")
	}

	c.Set("session", chatSession)

	switch chatSession.State {
	case model.ExpectingCapital:
		return b.ctrl.ProcessCapital(c)
	case model.ExpectingBasketFile:
		return b.ctrl.AwaitDocument(c)
	default:
		slog.Debug("unexpected text", slog.String("rqID", rqID), slog.Any("state", chatSession.State))
		return b.ctrl.Unexpected(c)
	}
}
