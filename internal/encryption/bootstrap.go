package encryption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/model"
	"github.com/messenger/chansync/internal/storage"
)

var (
	ErrConsentRejected = errors.New("encryption: consent rejected")
	ErrNoConsent       = errors.New("encryption: no pending consent")
)

// DeviceAPI — операции бэкенда с устройствами и согласием. Реализуется *api.Client.
type DeviceAPI interface {
	OwnDevices(ctx context.Context) ([]model.Device, error)
	RegisterDevice(ctx context.Context, req api.RegisterDeviceRequest) (*api.RegisterDeviceResponse, error)
	PollConsent(ctx context.Context, consentID string) (*api.ConsentResult, error)
}

// Keys — локальный менеджер ключей устройства. Реализуется *e2e.KeyManager.
type Keys interface {
	Init() error
	PublicKey() (string, error)
	SetDeviceID(id string) error
}

// Notifier показывает пользователю ошибку включения шифрования.
type Notifier interface {
	Notify(err error)
}

type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

type Options struct {
	SelfGID      string
	DeviceName   string
	PollInterval time.Duration
	PollTimeout  time.Duration
	Metrics      *metrics.Metrics
}

// Bootstrap определяет и переключает статус шифрования сессии.
// Переход после точки ожидания отбрасывается, если ctx вызывающего уже завершён.
type Bootstrap struct {
	fsm      *Machine
	keys     Keys
	devices  DeviceAPI
	consent  storage.ConsentStore
	notifier Notifier
	opts     Options

	// одна операция за раз: Start, Enable и PollConsent не пересекаются
	op sync.Mutex
	// consentID дублирует хранилище на случай, если запись в него не удалась
	consentID string
}

func NewBootstrap(keys Keys, devices DeviceAPI, consent storage.ConsentStore, notifier Notifier, opts Options) *Bootstrap {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Minute
	}
	if notifier == nil {
		notifier = NotifierFunc(func(err error) { logger.Errorf("encryption: %v", err) })
	}
	b := &Bootstrap{
		fsm: NewMachine(), keys: keys, devices: devices, consent: consent,
		notifier: notifier, opts: opts,
	}
	opts.Metrics.EncryptionStatus(model.EncryptionPending)
	b.fsm.OnChange(func(from, to model.EncryptionStatus) {
		logger.Infof("encryption: %s -> %s", from, to)
		opts.Metrics.EncryptionStatus(to)
	})
	return b
}

func (b *Bootstrap) Status() model.EncryptionStatus {
	return b.fsm.Status()
}

func (b *Bootstrap) OnChange(fn Listener) {
	b.fsm.OnChange(fn)
}

// move выполняет переход, если ctx ещё жив; иначе переход отбрасывается.
func (b *Bootstrap) move(ctx context.Context, to model.EncryptionStatus) error {
	if err := ctx.Err(); err != nil {
		logger.Debugf("encryption: drop transition to %s: %v", to, err)
		return err
	}
	return b.fsm.Transition(to)
}

// Start инициализирует ключи устройства, продолжает ожидающее согласие или проверяет
// собственные устройства. Без включённого устройства статус остаётся KEY_MANAGER_INITIALIZED.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.op.Lock()
	defer b.op.Unlock()
	defer logger.DeferLogDuration("encryption.Start", time.Now())()

	switch b.fsm.Status() {
	case model.EncryptionEnabled:
		return nil
	case model.EncryptionPolling:
		return b.poll(ctx)
	}
	if err := b.initKeys(ctx); err != nil {
		return err
	}

	id, err := b.consent.GetConsentID(ctx, b.opts.SelfGID)
	if err != nil {
		logger.Errorf("encryption: read consent id: %v", err)
	}
	if id != "" {
		b.consentID = id
		if err := b.move(ctx, model.EncryptionPolling); err != nil {
			return err
		}
		return b.poll(ctx)
	}

	devices, err := b.devices.OwnDevices(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("encryption.Start: own devices: %w", err)
	}
	for _, d := range devices {
		if d.EncryptionEnabled {
			return b.move(ctx, model.EncryptionEnabled)
		}
	}
	return nil
}

// initKeys доводит машину до KEY_MANAGER_INITIALIZED. Из DISABLED — повтор через PENDING.
func (b *Bootstrap) initKeys(ctx context.Context) error {
	switch b.fsm.Status() {
	case model.EncryptionKeyManagerInitialized:
		return nil
	case model.EncryptionDisabled:
		if err := b.move(ctx, model.EncryptionPending); err != nil {
			return err
		}
	case model.EncryptionPending:
	default:
		return fmt.Errorf("%w: init keys in %s", ErrInvalidTransition, b.fsm.Status())
	}
	if err := b.keys.Init(); err != nil {
		if mErr := b.move(ctx, model.EncryptionDisabled); mErr != nil {
			return mErr
		}
		return fmt.Errorf("encryption: init keys: %w", err)
	}
	return b.move(ctx, model.EncryptionKeyManagerInitialized)
}

// Enable регистрирует это устройство, сохраняет id согласия и ждёт его подтверждения.
func (b *Bootstrap) Enable(ctx context.Context) error {
	b.op.Lock()
	defer b.op.Unlock()
	defer logger.DeferLogDuration("encryption.Enable", time.Now())()

	switch b.fsm.Status() {
	case model.EncryptionEnabled:
		return nil
	case model.EncryptionPolling:
		return b.poll(ctx)
	}
	if err := b.initKeys(ctx); err != nil {
		return err
	}

	pub, err := b.keys.PublicKey()
	if err != nil {
		return b.fail(ctx, fmt.Errorf("encryption.Enable: %w", err))
	}
	resp, err := b.devices.RegisterDevice(ctx, api.RegisterDeviceRequest{Name: b.opts.DeviceName, PublicKey: pub})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return b.fail(ctx, fmt.Errorf("encryption.Enable: register device: %w", err))
	}
	if resp.ConsentID == "" {
		return b.fail(ctx, fmt.Errorf("encryption.Enable: %w", ErrNoConsent))
	}
	b.consentID = resp.ConsentID
	if err := b.consent.SetConsentID(ctx, b.opts.SelfGID, resp.ConsentID); err != nil {
		logger.Errorf("encryption: persist consent id: %v", err)
	}
	logger.Infof("encryption: device %s registered, waiting for consent", resp.Device.ID)

	if err := b.move(ctx, model.EncryptionPolling); err != nil {
		return err
	}
	return b.poll(ctx)
}

// PollConsent продолжает ожидание согласия. Пока оно не подтверждено в пределах PollTimeout,
// статус остаётся POLLING, а ошибка оборачивает api.ErrConsentPending.
func (b *Bootstrap) PollConsent(ctx context.Context) error {
	b.op.Lock()
	defer b.op.Unlock()
	return b.poll(ctx)
}

func (b *Bootstrap) poll(ctx context.Context) error {
	if st := b.fsm.Status(); st != model.EncryptionPolling {
		return fmt.Errorf("%w: poll consent in %s", ErrInvalidTransition, st)
	}
	id := b.consentID
	if stored, err := b.consent.GetConsentID(ctx, b.opts.SelfGID); err == nil && stored != "" {
		id = stored
	}
	if id == "" {
		return b.fail(ctx, ErrNoConsent)
	}

	pctx, cancel := context.WithTimeout(ctx, b.opts.PollTimeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(b.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(pctx); err != nil {
			return b.pollStopped(ctx, err)
		}
		res, err := b.devices.PollConsent(pctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, api.ErrConsentPending):
			logger.Debugf("encryption: consent %s not approved yet", id)
			continue
		case err != nil && pctx.Err() != nil:
			return b.pollStopped(ctx, err)
		case err != nil:
			return b.fail(ctx, fmt.Errorf("encryption: poll consent: %w", err))
		}

		switch res.Status {
		case model.ConsentCompleted:
			if res.DeviceID != "" {
				if err := b.keys.SetDeviceID(res.DeviceID); err != nil {
					return b.fail(ctx, fmt.Errorf("encryption: store device id: %w", err))
				}
			}
			b.clearConsent(ctx)
			return b.move(ctx, model.EncryptionEnabled)
		default:
			return b.fail(ctx, fmt.Errorf("%w: status %q", ErrConsentRejected, res.Status))
		}
	}
}

// pollStopped — ожидание прервано: отменой вызывающего (переход отбрасывается)
// или таймаутом опроса (статус остаётся POLLING).
func (b *Bootstrap) pollStopped(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Infof("encryption: consent still pending after %s", b.opts.PollTimeout)
	return fmt.Errorf("encryption.PollConsent: %w (%v)", api.ErrConsentPending, cause)
}

// fail сообщает пользователю об ошибке, забывает согласие и выключает шифрование.
func (b *Bootstrap) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.notifier.Notify(err)
	b.clearConsent(ctx)
	if mErr := b.move(ctx, model.EncryptionDisabled); mErr != nil {
		return errors.Join(err, mErr)
	}
	return err
}

func (b *Bootstrap) clearConsent(ctx context.Context) {
	b.consentID = ""
	if err := b.consent.ClearConsentID(ctx, b.opts.SelfGID); err != nil {
		logger.Errorf("encryption: clear consent id: %v", err)
	}
}
