package telegram

import (
	"fmt"
	"sync"
	"time"

	"github.com/NicoNex/echotron/v3"
	"github.com/labstack/gommon/log"
)

// sender is the part of the bot API used to deliver links.
type sender interface {
	SendPhoto(file echotron.InputFile, chatID int64, opts *echotron.PhotoOptions) (echotron.APIResponseMessage, error)
	SendMessage(text string, chatID int64, opts *echotron.MessageOptions) (echotron.APIResponseMessage, error)
}

// Bot delivers share links to Telegram users. A user receives at most one
// link per flood wait period.
type Bot struct {
	api       sender
	floodWait time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[int64]time.Time
}

// New connects to the bot API. An empty token returns a nil Bot.
func New(token string, floodWait time.Duration) (*Bot, error) {
	if token == "" {
		return nil, nil
	}
	if len(token) < 30 {
		return nil, fmt.Errorf("telegram token is too short")
	}
	api := echotron.NewAPI(token)
	res, err := api.GetMe()
	if err != nil {
		return nil, fmt.Errorf("unable to connect to telegram bot: %w", err)
	}
	if !res.Ok {
		return nil, fmt.Errorf("unable to connect to telegram bot: %s", res.Description)
	}
	log.Infof("[Telegram] Authorized as %s", res.Result.Username)
	return newBot(api, floodWait), nil
}

func newBot(api sender, floodWait time.Duration) *Bot {
	return &Bot{
		api:       api,
		floodWait: floodWait,
		now:       time.Now,
		lastSent:  make(map[int64]time.Time),
	}
}

// SendShareLink sends the QR code and the link of a new client to userID.
func (b *Bot) SendShareLink(userID int64, clientName, link string, qrPNG []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.expire(now)
	if _, wait := b.lastSent[userID]; wait {
		return fmt.Errorf("this user already got a link less than %s ago", b.floodWait)
	}

	if len(qrPNG) > 0 {
		qr := echotron.NewInputFileBytes("qr.png", qrPNG)
		if _, err := b.api.SendPhoto(qr, userID, &echotron.PhotoOptions{Caption: clientName}); err != nil {
			log.Error(err)
			return fmt.Errorf("unable to send qr picture")
		}
	}
	if _, err := b.api.SendMessage(link, userID, nil); err != nil {
		log.Error(err)
		return fmt.Errorf("unable to send share link")
	}

	b.lastSent[userID] = now
	return nil
}

func (b *Bot) expire(now time.Time) {
	for userID, at := range b.lastSent {
		if now.Sub(at) >= b.floodWait {
			delete(b.lastSent, userID)
		}
	}
}
