package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/imaging"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/service"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

const maxPhotoBytes = 20 << 20

var errNotImage = errors.New("not an image")

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	accounts   *service.AccountService
	sessions   *session.Registry
	generation *service.GenerationService
	exports    *service.ExportService
	promo      *service.PromoService
	payments   *service.PaymentService
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, accounts *service.AccountService, sessions *session.Registry, generation *service.GenerationService, exports *service.ExportService, promo *service.PromoService, payments *service.PaymentService) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		accounts:   accounts,
		sessions:   sessions,
		generation: generation,
		exports:    exports,
		promo:      promo,
		payments:   payments,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				if err := b.payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
					b.log.Error("pre-checkout failed", "err", err)
				}
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleSourceImage(ctx, msg); err != nil {
			if errors.Is(err, errNotImage) {
				b.sendText(msg.Chat.ID, "Isso não é uma imagem. Envie uma foto do prato.")
			} else {
				b.log.Error("source upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Não consegui receber a foto, tente novamente.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.state.Reset(msg.Chat.ID)
		b.handleCommand(ctx, msg)
		return
	}

	switch b.state.Get(msg.Chat.ID) {
	case StateAwaitingLight:
		b.applyLight(ctx, msg, msg.Text)
	case StateAwaitingPromo:
		b.applyPromo(ctx, msg, msg.Text)
	default:
		b.sendText(msg.Chat.ID, "Envie uma foto do prato e depois use /generate.")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	account, _, err := b.ensureAccount(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure account payment", "err", err)
		return
	}
	pkg, err := b.payments.HandleSuccessfulPayment(ctx, account.ID, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "err", err)
		b.sendText(msg.Chat.ID, "Recebemos o pagamento, mas houve um erro ao liberar os créditos. Fale com o suporte.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Pagamento confirmado! +%d créditos.", pkg.Credits))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		account, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("open session", "err", err)
			return
		}
		current := sess.Account()
		text := fmt.Sprintf(
			"Olá, %s!\n\nEnvie uma foto do seu prato e eu transformo em uma foto profissional. Cada geração custa 1 crédito.\n\nPlano: %s\nCréditos: %s\n\nComandos:\n/vibe — escolher o cenário\n/angle — escolher o ângulo\n/light <0-100> — ajustar a luz\n/style — ver o estilo atual\n/generate — gerar a foto\n/export — baixar a última foto em JPEG\n/balance — ver saldo\n/buy — comprar créditos\n/promo <código> — ativar promocode\n/logout — encerrar a sessão",
			account.FirstName, planLabel(current.Plan), creditsLabel(current),
		)
		b.sendText(msg.Chat.ID, text)
	case "vibe":
		b.handleStyleKeyword(ctx, msg, "vibe")
	case "angle":
		b.handleStyleKeyword(ctx, msg, "angle")
	case "light":
		if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
			b.applyLight(ctx, msg, arg)
			return
		}
		b.state.Set(msg.Chat.ID, StateAwaitingLight)
		b.sendText(msg.Chat.ID, "Envie a intensidade da luz de 0 a 100.")
	case "style":
		_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("open session style", "err", err)
			return
		}
		b.sendText(msg.Chat.ID, styleText(sess.Style()))
	case "generate":
		_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("open session generate", "err", err)
			return
		}
		go b.handleGenerate(ctx, msg.Chat.ID, sess)
	case "export":
		b.handleExport(ctx, msg)
	case "balance":
		b.handleBalance(ctx, msg)
	case "buy":
		account, _, err := b.ensureAccount(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("ensure account buy", "err", err)
			return
		}
		if err := b.payments.SendInvoice(ctx, b.api, account, msg.Chat.ID); err != nil {
			b.log.Error("send invoice", "err", err)
			b.sendText(msg.Chat.ID, "Não foi possível gerar a cobrança. Tente mais tarde.")
		}
	case "promo":
		if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
			b.applyPromo(ctx, msg, arg)
			return
		}
		b.state.Set(msg.Chat.ID, StateAwaitingPromo)
		b.sendText(msg.Chat.ID, "Envie o código promocional.")
	case "logout":
		account, _, err := b.ensureAccount(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("ensure account logout", "err", err)
			return
		}
		if b.sessions.Logout(account.ID) {
			b.sendText(msg.Chat.ID, "Sessão encerrada. Seu saldo foi salvo.")
		} else {
			b.sendText(msg.Chat.ID, "Nenhuma sessão ativa.")
		}
	default:
		b.sendText(msg.Chat.ID, "Comando desconhecido. Use /start para ver a lista.")
	}
}

func (b *Bot) handleStyleKeyword(ctx context.Context, msg *tgbotapi.Message, kind string) {
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
		if err != nil {
			b.log.Error("open session style keyword", "err", err)
			return
		}
		b.updateStyle(msg.Chat.ID, sess, kind, arg)
		return
	}

	options := generator.Vibes()
	prompt := "Escolha o cenário:"
	if kind == "angle" {
		options = generator.Angles()
		prompt = "Escolha o ângulo:"
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, prompt)
	reply.ReplyMarkup = keywordKeyboard(kind, options)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	kind, value, ok := parseCallback(cb.Data)
	if !ok || cb.Message == nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Opção desconhecida")); err != nil {
			b.log.Error("callback error", "err", err)
		}
		return
	}
	_, sess, err := b.openSession(ctx, cb.From, cb.Message.Chat.ID)
	if err != nil {
		b.log.Error("open session callback", "err", err)
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Estilo atualizado")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	b.updateStyle(cb.Message.Chat.ID, sess, kind, value)
}

func (b *Bot) updateStyle(chatID int64, sess *session.Session, kind, value string) {
	style, err := sess.UpdateStyle(func(s *models.StyleParams) {
		switch kind {
		case "vibe":
			s.Vibe = value
		case "angle":
			s.Angle = value
		}
	})
	if err != nil {
		b.sendText(chatID, "Valor inválido.")
		return
	}
	b.sendText(chatID, styleText(style))
}

func (b *Bot) applyLight(ctx context.Context, msg *tgbotapi.Message, raw string) {
	light, err := parseLight(raw)
	if err != nil {
		b.sendText(msg.Chat.ID, "A luz deve ser um número de 0 a 100.")
		return
	}
	_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("open session light", "err", err)
		return
	}
	b.state.Reset(msg.Chat.ID)
	style, err := sess.UpdateStyle(func(s *models.StyleParams) { s.Light = light })
	if err != nil {
		b.sendText(msg.Chat.ID, "A luz deve ser um número de 0 a 100.")
		return
	}
	b.sendText(msg.Chat.ID, styleText(style))
}

func (b *Bot) applyPromo(ctx context.Context, msg *tgbotapi.Message, code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		b.sendText(msg.Chat.ID, "Formato: /promo CÓDIGO")
		return
	}
	account, _, err := b.ensureAccount(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure account promo", "err", err)
		return
	}
	b.state.Reset(msg.Chat.ID)

	credits, err := b.promo.Apply(ctx, account.ID, code)
	switch {
	case err == nil:
		b.sendText(msg.Chat.ID, fmt.Sprintf("Código ativado! +%d créditos.", credits))
	case errors.Is(err, service.ErrPromoInvalid):
		b.sendText(msg.Chat.ID, "Código inválido.")
	case errors.Is(err, service.ErrPromoExhausted):
		b.sendText(msg.Chat.ID, "Este código já atingiu o limite de usos.")
	case errors.Is(err, service.ErrPromoAlreadyRedeemed):
		b.sendText(msg.Chat.ID, "Você já usou este código.")
	default:
		b.log.Error("apply promo", "err", err)
		b.sendText(msg.Chat.ID, "Não foi possível aplicar o código, tente mais tarde.")
	}
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message) {
	_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("open session balance", "err", err)
		return
	}
	account := sess.Account()
	today, err := b.generation.DailyCount(ctx, account.ID)
	if err != nil {
		b.log.Error("daily count", "err", err)
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Plano: %s\nCréditos: %s\nGerações hoje: %d", planLabel(account.Plan), creditsLabel(account), today))
}

// handleGenerate runs one paid attempt and sends the result through the
// export pipeline, so FREE accounts get the watermarked version.
func (b *Bot) handleGenerate(ctx context.Context, chatID int64, sess *session.Session) {
	source := sess.Source()
	if len(source) == 0 {
		b.sendText(chatID, "Envie primeiro uma foto do prato.")
		return
	}
	b.sendText(chatID, "Gerando sua foto, isso pode levar até dois minutos...")

	res := b.generation.Attempt(ctx, sess, service.GenerationRequest{Source: source, Style: sess.Style()})
	if !res.Success {
		b.sendText(chatID, reasonText(res.Reason))
		return
	}

	plan := sess.Ledger().Plan()
	caption := fmt.Sprintf("Pronto! Créditos: %s", creditsLabel(sess.Account()))
	req := service.ExportRequest{Image: res.Image, Plan: plan}
	if err := b.exports.Export(ctx, req, b.photoSink(chatID, caption)); err != nil {
		b.log.Error("deliver generated image", "err", err)
		b.sendText(chatID, "A foto foi gerada, mas não consegui enviá-la. Use /export para tentar de novo.")
	}
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("open session export", "err", err)
		return
	}
	last := sess.LastImage()
	if last == nil {
		b.sendText(msg.Chat.ID, "Nenhuma foto gerada ainda. Use /generate.")
		return
	}
	req := service.ExportRequest{Image: last, Plan: sess.Ledger().Plan(), Format: msg.CommandArguments()}
	if err := b.exports.Export(ctx, req, b.documentSink(msg.Chat.ID)); err != nil {
		var exportErr *imaging.ExportError
		if errors.As(err, &exportErr) {
			b.log.Error("export", "stage", exportErr.Stage, "err", exportErr.Err)
		} else {
			b.log.Error("export", "err", err)
		}
		b.sendText(msg.Chat.ID, "Não foi possível exportar a imagem.")
	}
}

func (b *Bot) photoSink(chatID int64, caption string) service.Sink {
	return service.SinkFunc(func(ctx context.Context, a service.Artifact) error {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileReader{Name: a.Filename, Reader: a.Body})
		photo.Caption = caption
		_, err := b.api.Send(photo)
		return err
	})
}

func (b *Bot) documentSink(chatID int64) service.Sink {
	return service.SinkFunc(func(ctx context.Context, a service.Artifact) error {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: a.Filename, Reader: a.Body})
		if a.Watermarked {
			doc.Caption = "Plano FREE: a marca d'água sai nos planos pagos. /buy"
		}
		_, err := b.api.Send(doc)
		return err
	})
}

func (b *Bot) handleSourceImage(ctx context.Context, msg *tgbotapi.Message) error {
	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errNotImage
		}
		fileID = msg.Document.FileID
	default:
		return nil
	}

	_, sess, err := b.openSession(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}
	data, _, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	sess.SetSource(data)

	b.sendText(msg.Chat.ID, "Foto recebida! Ajuste o estilo com /vibe, /angle e /light ou envie /generate.")
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) ensureAccount(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.Account, bool, error) {
	var username, firstName, lastName string
	telegramID := chatID
	if from != nil {
		username = from.UserName
		firstName = from.FirstName
		lastName = from.LastName
		telegramID = from.ID
	}
	return b.accounts.Ensure(ctx, telegramID, username, firstName, lastName)
}

// openSession resolves the Telegram user to an account and returns its live
// session, opening one on first contact.
func (b *Bot) openSession(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.Account, *session.Session, error) {
	account, _, err := b.ensureAccount(ctx, from, chatID)
	if err != nil {
		return nil, nil, err
	}
	sess, err := b.sessions.Login(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	return account, sess, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func keywordKeyboard(kind string, options []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, opt := range options {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(opt, kind+":"+opt))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func parseCallback(data string) (kind, value string, ok bool) {
	kind, value, found := strings.Cut(data, ":")
	if !found || value == "" {
		return "", "", false
	}
	switch kind {
	case "vibe", "angle":
		return kind, value, true
	default:
		return "", "", false
	}
}

func parseLight(raw string) (int, error) {
	light, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if err != nil {
		return 0, err
	}
	if light < 0 || light > 100 {
		return 0, fmt.Errorf("light %d out of range", light)
	}
	return light, nil
}

func styleText(s models.StyleParams) string {
	return fmt.Sprintf("Estilo atual:\nCenário: %s\nÂngulo: %s\nLuz: %d%%", s.Vibe, s.Angle, s.Light)
}

func planLabel(p models.Plan) string {
	return strings.ToUpper(string(p))
}

func creditsLabel(a models.Account) string {
	if a.Plan.Unlimited() {
		return "ilimitados"
	}
	return strconv.Itoa(a.Credits)
}

func reasonText(reason string) string {
	switch reason {
	case service.ReasonInsufficientCredits:
		return "Seus créditos acabaram. Use /buy para recarregar ou /promo para ativar um código."
	case service.ReasonInvalidImage:
		return "Não consegui ler essa foto. Envie outra imagem do prato."
	case service.ReasonInvalidStyle:
		return "Estilo inválido. Confira com /style."
	case service.ReasonGenerationInProgress:
		return "Já estou gerando uma foto para você. Aguarde o resultado."
	default:
		return "A geração falhou e seu crédito foi devolvido. Tente novamente."
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	case "image/gif":
		return "image/gif", nil
	default:
		return "", errNotImage
	}
}
