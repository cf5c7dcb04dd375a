// Package telegram runs the Telegram long-poll watcher: one telego bot
// per instance, converting updates into normalized inbound messages and
// sending replies (text, photos, voice notes) back through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/channels"
	"github.com/ligolabs/ligo/internal/store"
)

const (
	// mediaMaxBytes is the Bot API download ceiling.
	mediaMaxBytes int64 = 20 * 1024 * 1024

	downloadRetries = 3
)

// Options configures a Watcher.
type Options struct {
	Instance *store.InstanceData
	Filter   *channels.Filter
	Handler  channels.Handler
	Debounce time.Duration
	Proxy    string
	Log      *slog.Logger
}

// Watcher long-polls one Telegram bot.
type Watcher struct {
	inst    *store.InstanceData
	filter  *channels.Filter
	handler channels.Handler
	bot     *telego.Bot
	log     *slog.Logger

	debounce time.Duration
	deb      *bus.Debouncer
	dedupe   *bus.DedupeCache

	mu          sync.Mutex
	running     bool
	lastContact time.Time

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the watcher and its bot client. An invalid token fails
// here, not at Start.
func New(opts Options) (*Watcher, error) {
	var botOpts []telego.BotOption
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.Proxy, err)
		}
		botOpts = append(botOpts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(opts.Instance.BotToken, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		inst:     opts.Instance,
		filter:   opts.Filter,
		handler:  opts.Handler,
		bot:      bot,
		log:      log.With("channel", bus.ChannelTelegram, "instance_id", opts.Instance.ID),
		debounce: opts.Debounce,
		dedupe:   bus.NewDedupeCache(10*time.Minute, 2048),
	}, nil
}

func (w *Watcher) InstanceID() uuid.UUID { return w.inst.ID }
func (w *Watcher) Channel() string       { return bus.ChannelTelegram }

func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) LastContact() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastContact
}

// Start begins long polling. Non-blocking after the initial getUpdates
// subscription.
func (w *Watcher) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	w.pollCancel = cancel
	w.pollDone = make(chan struct{})

	updates, err := w.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	w.mu.Lock()
	w.running = true
	w.lastContact = time.Now()
	w.mu.Unlock()

	w.deb = bus.NewDebouncer(w.debounce, func(msg bus.InboundMessage) {
		if err := w.handler(pollCtx, msg); err != nil {
			w.log.Error("message handling failed", "message_id", msg.ID, "error", err)
		}
	})

	go func() {
		defer close(w.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					w.log.Info("telegram updates channel closed")
					return
				}
				w.touch()
				if update.Message != nil {
					w.handleUpdate(pollCtx, update.Message)
				}
			}
		}
	}()

	w.log.Info("telegram watcher started", "bot", w.bot.Username())
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so
// Telegram releases the getUpdates lock before any replacement starts.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.pollCancel != nil {
		w.pollCancel()
	}
	if w.deb != nil {
		w.deb.Stop()
	}
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.pollDone != nil {
		select {
		case <-w.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			w.log.Warn("poll goroutine did not exit in time")
		}
	}
	return nil
}

func (w *Watcher) touch() {
	w.mu.Lock()
	w.lastContact = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) handleUpdate(ctx context.Context, m *telego.Message) {
	if m.From == nil {
		return
	}
	key := bus.ChannelTelegram + "|" + w.inst.ID.String() + "|" + strconv.Itoa(m.MessageID)
	if w.dedupe.IsDuplicate(key) {
		return
	}

	msg := w.normalize(ctx, m)
	if ok, reason := w.filter.Allow(ctx, msg); !ok {
		w.log.Debug("message filtered", "message_id", msg.ID, "reason", reason)
		return
	}
	w.deb.Push(msg)
}

func (w *Watcher) normalize(ctx context.Context, m *telego.Message) bus.InboundMessage {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	sender := strconv.FormatInt(m.From.ID, 10)
	isGroup := m.Chat.Type == "group" || m.Chat.Type == "supergroup"

	senderKey := sender
	if isGroup {
		senderKey = chatID
	}

	chatName := m.Chat.Title
	if chatName == "" {
		chatName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}

	body := m.Text
	if body == "" {
		body = m.Caption
	}

	msg := bus.InboundMessage{
		ID:         strconv.Itoa(m.MessageID),
		Sender:     sender,
		SenderKey:  senderKey,
		Body:       body,
		ChatID:     chatID,
		ChatName:   chatName,
		IsGroup:    isGroup,
		Timestamp:  time.Unix(int64(m.Date), 0),
		Channel:    bus.ChannelTelegram,
		InstanceID: w.inst.ID.String(),
		TelegramID: m.Chat.ID,
	}

	switch {
	case len(m.Photo) > 0:
		// Highest resolution is last.
		photo := m.Photo[len(m.Photo)-1]
		msg.MediaType = "image"
		msg.MediaURL = photo.FileID
		if path, err := w.download(ctx, photo.FileID); err != nil {
			w.log.Warn("photo download failed", "file_id", photo.FileID, "error", err)
		} else {
			msg.MediaPath = path
		}
	case m.Voice != nil:
		msg.MediaType = "audio"
		msg.MediaURL = m.Voice.FileID
		if path, err := w.download(ctx, m.Voice.FileID); err != nil {
			w.log.Warn("voice download failed", "file_id", m.Voice.FileID, "error", err)
		} else {
			msg.MediaPath = path
		}
	case m.Audio != nil:
		msg.MediaType = "audio"
		msg.MediaURL = m.Audio.FileID
		if path, err := w.download(ctx, m.Audio.FileID); err != nil {
			w.log.Warn("audio download failed", "file_id", m.Audio.FileID, "error", err)
		} else {
			msg.MediaPath = path
		}
	}
	return msg
}

// download fetches a Telegram file to a temp path, retrying transient
// GetFile failures with linear backoff.
func (w *Watcher) download(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadRetries; attempt++ {
		file, err = w.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file after %d attempts: %w", downloadRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for %s", fileID)
	}
	if int64(file.FileSize) > mediaMaxBytes {
		return "", fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", w.inst.BotToken, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	tmp, err := os.CreateTemp("", "ligo-tg-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, mediaMaxBytes)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write media: %w", err)
	}
	return tmp.Name(), nil
}

// Send delivers a reply. Media files go first (voice notes as voice
// messages, images as photos, the rest as documents), then the text.
func (w *Watcher) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseRecipient(msg.Recipient)
	if err != nil {
		return err
	}

	for _, path := range msg.MediaPaths {
		if err := w.sendFile(ctx, chatID, path, msg.AsVoice); err != nil {
			return fmt.Errorf("send media %s: %w", path, err)
		}
	}
	if msg.Body != "" {
		if _, err := w.bot.SendMessage(ctx, tu.Message(chatID, msg.Body)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	w.touch()
	return nil
}

func (w *Watcher) sendFile(ctx context.Context, chatID telego.ChatID, path string, asVoice bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch {
	case asVoice:
		_, err = w.bot.SendVoice(ctx, tu.Voice(chatID, tu.File(f)))
	case isImagePath(path):
		_, err = w.bot.SendPhoto(ctx, tu.Photo(chatID, tu.File(f)))
	default:
		_, err = w.bot.SendDocument(ctx, tu.Document(chatID, tu.File(f)))
	}
	return err
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return false
}

// parseRecipient accepts a numeric chat id or an @username.
func parseRecipient(recipient string) (telego.ChatID, error) {
	if strings.HasPrefix(recipient, "@") {
		return tu.Username(recipient), nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("bad telegram recipient %q: %w", recipient, err)
	}
	return tu.ID(id), nil
}
