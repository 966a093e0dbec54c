package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/data/session"
	"github.com/KotFed0t/basket_rebalancer/internal/basketfile"
	"github.com/KotFed0t/basket_rebalancer/internal/converter/telebotConverter"
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/service"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"
)

const (
	internalErrMsg    = "something went wrong..."
	nextStateFileName = "rebalanced_portfolio.csv"
	tableFileName     = "rebalanced_table.csv"
	templateFileName  = "basket_template.csv"
	helpMsg           = `Hello! I keep your basket of stocks at its target weights.

/basket - current basket and weights
/capital <amount> - cash to invest on the next rebalance
/rebalance - shares to buy and sell
/reset_prices - fetch fresh prices
/template - basket file to fill in
/history - latest computed operations

Send a CSV file with the columns Ticker, Shares Held, Target Weight (%) to replace your basket.`
)

type RebalanceService interface {
	RegUser(ctx context.Context, chatID int64) error
	ResetSession(ctx context.Context, chatID int64) error
	ImportBasket(ctx context.Context, chatID int64, r io.Reader) (model.HoldingsTable, error)
	Template() ([]byte, error)
	ResetPrices(ctx context.Context, chatID int64) error
	SetAdditionalCapital(ctx context.Context, chatID int64, amount decimal.Decimal) error
	Overview(ctx context.Context, chatID int64) (model.Portfolio, error)
	Rebalance(ctx context.Context, chatID int64) (model.Allocation, error)
	Report(ctx context.Context, chatID int64, allocation model.Allocation) (model.ReportFile, error)
	History(ctx context.Context, chatID int64) ([]model.RebalanceOperation, error)
}

type Session interface {
	GetSession(ctx context.Context, chatID int64) (model.Session, error)
	SetSession(ctx context.Context, chatID int64, session model.Session) error
}

type Controller struct {
	cfg              *config.Config
	rebalanceService RebalanceService
	session          Session
}

func NewController(cfg *config.Config, rebalanceService RebalanceService, session Session) *Controller {
	return &Controller{
		cfg:              cfg,
		rebalanceService: rebalanceService,
		session:          session,
	}
}

func (ctrl *Controller) Start(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	if err := ctrl.rebalanceService.RegUser(ctx, c.Chat().ID); err != nil {
		slog.Error("got error from rebalanceService.RegUser", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	if err := ctrl.rebalanceService.ResetSession(ctx, c.Chat().ID); err != nil {
		slog.Error("got error from rebalanceService.ResetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
	}

	return c.Send(helpMsg)
}

func (ctrl *Controller) Basket(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	portfolio, err := ctrl.rebalanceService.Overview(ctx, c.Chat().ID)
	if err != nil {
		slog.Error("got error from rebalanceService.Overview", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	chatSession, err := ctrl.getSessionFromTeleCtxOrStorage(ctx, c)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.BasketResponse(portfolio, ctrl.cfg.Basket.CurrencySymbol, chatSession.AdditionalCapital))
}

// Capital sets the additional capital from the command payload, or asks for it.
func (ctrl *Controller) Capital(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)

	if c.Callback() != nil {
		_ = c.Respond()
	}

	if payload := strings.TrimSpace(c.Message().Payload); payload != "" && c.Callback() == nil {
		return ctrl.setCapital(ctx, c, payload)
	}

	if err := ctrl.setState(ctx, c, model.ExpectingCapital); err != nil {
		return c.Send(internalErrMsg)
	}

	return c.Send(fmt.Sprintf("Enter the amount to invest, %s:", ctrl.cfg.Basket.CurrencySymbol))
}

func (ctrl *Controller) ProcessCapital(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	return ctrl.setCapital(ctx, c, c.Text())
}

func (ctrl *Controller) setCapital(ctx context.Context, c tele.Context, text string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	amount, err := parseAmount(text)
	if err != nil {
		return c.Send("Enter a number, for example 10000 or 2500.50")
	}

	err = ctrl.rebalanceService.SetAdditionalCapital(ctx, c.Chat().ID, amount)
	if err != nil {
		if errors.Is(err, service.ErrNegativeCapital) {
			return c.Send("The amount can't be negative")
		}
		slog.Error("got error from rebalanceService.SetAdditionalCapital", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(fmt.Sprintf("Additional capital: %s. Use /rebalance to see the trades.", amount.StringFixed(2)))
}

func (ctrl *Controller) Rebalance(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	symbol := ctrl.cfg.Basket.CurrencySymbol

	if c.Callback() != nil {
		_ = c.Respond()
	}

	allocation, err := ctrl.rebalanceService.Rebalance(ctx, c.Chat().ID)
	if err != nil {
		return ctrl.sendError(ctx, c, err)
	}

	if err = c.Send(telebotConverter.AllocationResponse(allocation, symbol)); err != nil {
		return err
	}

	if suggestion := telebotConverter.SuggestionResponse(allocation, symbol); suggestion != "" {
		_ = c.Send(suggestion)
	}

	nextState, err := basketfile.Encode(allocation.NextState())
	if err != nil {
		slog.Error("can't encode next state", slog.String("rqID", rqID), slog.String("err", err.Error()))
	} else {
		_ = c.Send(document(nextState, nextStateFileName, "Basket after the trades, send it back once they are done"))
	}

	report, err := ctrl.rebalanceService.Report(ctx, c.Chat().ID, allocation)
	switch {
	case err != nil:
		slog.Error("got error from rebalanceService.Report", slog.String("rqID", rqID), slog.String("err", err.Error()))
		table, err := basketfile.EncodeAllocation(allocation)
		if err != nil {
			return c.Send(internalErrMsg)
		}
		return c.Send(document(table, tableFileName, ""))
	case report.Link != "":
		return c.Send(fmt.Sprintf("📎 Report: %s", report.Link))
	default:
		return c.Send(document(report.Content, report.Name, ""))
	}
}

func (ctrl *Controller) ResetPrices(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	if c.Callback() != nil {
		_ = c.Respond()
	}

	if err := ctrl.rebalanceService.ResetPrices(ctx, c.Chat().ID); err != nil {
		slog.Error("got error from rebalanceService.ResetPrices", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send("Prices will be fetched again on the next request")
}

func (ctrl *Controller) Template(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	template, err := ctrl.rebalanceService.Template()
	if err != nil {
		slog.Error("got error from rebalanceService.Template", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(document(template, templateFileName, "Fill it in and send it back"))
}

func (ctrl *Controller) History(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	operations, err := ctrl.rebalanceService.History(ctx, c.Chat().ID)
	if err != nil {
		slog.Error("got error from rebalanceService.History", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.HistoryResponse(operations, ctrl.cfg.Basket.CurrencySymbol))
}

func (ctrl *Controller) InitUpload(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)

	if c.Callback() != nil {
		_ = c.Respond()
	}

	if err := ctrl.setState(ctx, c, model.ExpectingBasketFile); err != nil {
		return c.Send(internalErrMsg)
	}

	return c.Send("Send the basket as a CSV file, see /template")
}

// ProcessDocument imports the basket from a CSV document.
func (ctrl *Controller) ProcessDocument(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	doc := c.Message().Document
	if doc == nil {
		return nil
	}

	if doc.FileSize > int64(ctrl.cfg.Telegram.FileLimitInBytes) {
		return c.Send(fmt.Sprintf("The file is too big, the limit is %d bytes", ctrl.cfg.Telegram.FileLimitInBytes))
	}

	file, err := c.Bot().File(&doc.File)
	if err != nil {
		slog.Error("can't download document", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}
	defer file.Close()

	table, err := ctrl.rebalanceService.ImportBasket(ctx, c.Chat().ID, file)
	if err != nil {
		return ctrl.sendError(ctx, c, err)
	}

	_ = ctrl.setState(ctx, c, model.DefaultState)

	return c.Send(fmt.Sprintf("✅ Basket imported: %d holdings. Use /basket or /rebalance.", len(table.Holdings)))
}

// AwaitDocument answers text sent while the chat waits for a basket file.
func (ctrl *Controller) AwaitDocument(c tele.Context) error {
	return c.Send("Waiting for the basket as a CSV file, see /template")
}

func (ctrl *Controller) Unexpected(c tele.Context) error {
	return c.Send("Choose one of the commands first, see /start")
}

// sendError maps the errors a user can fix to a message.
func (ctrl *Controller) sendError(ctx context.Context, c tele.Context, err error) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	var schemaErr *basketfile.SchemaError
	var validationErr *service.ValidationError
	var lineErr *basketfile.LineError

	switch {
	case errors.As(err, &schemaErr):
		return c.Send("❌ " + schemaErr.Error())
	case errors.As(err, &validationErr):
		return c.Send(telebotConverter.ValidationResponse(validationErr.Messages))
	case errors.Is(err, service.ErrMissingPrice):
		return c.Send("❌ " + err.Error())
	case errors.Is(err, basketfile.ErrEmptyFile):
		return c.Send("❌ The file is empty")
	case errors.As(err, &lineErr):
		return c.Send(fmt.Sprintf("❌ Can't read the file, %s", lineErr.Error()))
	default:
		slog.Error("unexpected error", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}
}

func (ctrl *Controller) setState(ctx context.Context, c tele.Context, state model.State) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	chatSession, err := ctrl.getSessionFromTeleCtxOrStorage(ctx, c)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	chatSession.State = state
	err = ctrl.session.SetSession(ctx, c.Chat().ID, chatSession)
	if err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}
	return nil
}

// getSessionFromTeleCtxOrStorage prefers the session the text router already loaded.
func (ctrl *Controller) getSessionFromTeleCtxOrStorage(ctx context.Context, c tele.Context) (model.Session, error) {
	chatSession, ok := c.Get("session").(model.Session)
	if ok {
		return chatSession, nil
	}

	rqID := utils.GetRequestIDFromCtx(ctx)
	chatSession, err := ctrl.session.GetSession(ctx, c.Chat().ID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("got error from session.GetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
		}
		return model.Session{}, err
	}
	return chatSession, nil
}

func document(content []byte, fileName, caption string) *tele.Document {
	return &tele.Document{
		File:     tele.FromReader(bytes.NewReader(content)),
		FileName: fileName,
		MIME:     mimeOf(fileName),
		Caption:  caption,
	}
}

func mimeOf(fileName string) string {
	if strings.HasSuffix(fileName, ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// parseAmount accepts both 2500.50 and 2 500,50.
func parseAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, ",", ".")
	return decimal.NewFromString(text)
}
