package encryption

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger/chansync/internal/api"
	"github.com/messenger/chansync/internal/model"
	"github.com/messenger/chansync/internal/storage/memory"
)

type fakeKeys struct {
	initErr  error
	deviceID string
}

func (k *fakeKeys) Init() error                 { return k.initErr }
func (k *fakeKeys) PublicKey() (string, error)  { return "age1test", nil }
func (k *fakeKeys) SetDeviceID(id string) error { k.deviceID = id; return nil }

type fakeDevices struct {
	mu sync.Mutex

	own      []model.Device
	register func(ctx context.Context) (*api.RegisterDeviceResponse, error)
	// polls — ответы по очереди; после конца списка повторяется последний.
	polls  []pollReply
	polled []string
}

type pollReply struct {
	res *api.ConsentResult
	err error
}

func (f *fakeDevices) OwnDevices(ctx context.Context) ([]model.Device, error) {
	return f.own, nil
}

func (f *fakeDevices) RegisterDevice(ctx context.Context, req api.RegisterDeviceRequest) (*api.RegisterDeviceResponse, error) {
	if f.register != nil {
		return f.register(ctx)
	}
	return &api.RegisterDeviceResponse{Device: model.Device{ID: "new-dev", PublicKey: req.PublicKey}, ConsentID: "cons-1"}, nil
}

func (f *fakeDevices) PollConsent(ctx context.Context, consentID string) (*api.ConsentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, consentID)
	i := len(f.polled) - 1
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	return f.polls[i].res, f.polls[i].err
}

var pending = pollReply{err: api.ErrConsentPending}

func completed(deviceID string) pollReply {
	return pollReply{res: &api.ConsentResult{Status: model.ConsentCompleted, DeviceID: deviceID}}
}

type recorder struct {
	mu       sync.Mutex
	statuses []model.EncryptionStatus
	notified []error
}

func (r *recorder) listen(_, to model.EncryptionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, to)
}

func (r *recorder) Notify(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, err)
}

func newBootstrap(keys *fakeKeys, devices *fakeDevices) (*Bootstrap, *memory.Client, *recorder) {
	store := memory.New(time.Minute)
	rec := &recorder{}
	b := NewBootstrap(keys, devices, store, rec, Options{
		SelfGID: "self", DeviceName: "test", PollInterval: time.Millisecond, PollTimeout: time.Second,
	})
	b.OnChange(rec.listen)
	return b, store, rec
}

func TestStart_EnabledDevice(t *testing.T) {
	b, _, rec := newBootstrap(&fakeKeys{}, &fakeDevices{own: []model.Device{{ID: "d1", EncryptionEnabled: true}}})

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, model.EncryptionEnabled, b.Status())
	assert.Equal(t, []model.EncryptionStatus{model.EncryptionKeyManagerInitialized, model.EncryptionEnabled}, rec.statuses)
}

func TestStart_NoEnabledDeviceStaysInitialized(t *testing.T) {
	b, _, _ := newBootstrap(&fakeKeys{}, &fakeDevices{own: []model.Device{{ID: "d1"}}})

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, model.EncryptionKeyManagerInitialized, b.Status())
}

func TestStart_KeyInitFailureDisablesThenRetries(t *testing.T) {
	keys := &fakeKeys{initErr: errors.New("disk full")}
	b, _, rec := newBootstrap(keys, &fakeDevices{})

	require.Error(t, b.Start(context.Background()))
	assert.Equal(t, model.EncryptionDisabled, b.Status())

	keys.initErr = nil
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, []model.EncryptionStatus{
		model.EncryptionDisabled, model.EncryptionPending, model.EncryptionKeyManagerInitialized,
	}, rec.statuses)
}

func TestEnable_ConsentCompletedEnablesAndClearsConsent(t *testing.T) {
	keys := &fakeKeys{}
	devices := &fakeDevices{polls: []pollReply{pending, pending, completed("dev-9")}}
	b, store, rec := newBootstrap(keys, devices)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.Enable(ctx))
	assert.Equal(t, model.EncryptionEnabled, b.Status())
	assert.Equal(t, "dev-9", keys.deviceID)
	assert.Equal(t, []string{"cons-1", "cons-1", "cons-1"}, devices.polled)

	id, err := store.GetConsentID(ctx, "self")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, []model.EncryptionStatus{
		model.EncryptionKeyManagerInitialized, model.EncryptionPolling, model.EncryptionEnabled,
	}, rec.statuses)
	assert.Empty(t, rec.notified)
}

func TestStart_ResumesStoredConsent(t *testing.T) {
	devices := &fakeDevices{polls: []pollReply{completed("dev-2")}}
	b, store, _ := newBootstrap(&fakeKeys{}, devices)
	ctx := context.Background()
	require.NoError(t, store.SetConsentID(ctx, "self", "cons-stored"))

	require.NoError(t, b.Start(ctx))
	assert.Equal(t, model.EncryptionEnabled, b.Status())
	assert.Equal(t, []string{"cons-stored"}, devices.polled)
}

func TestPollConsent_HardFailureDisables(t *testing.T) {
	devices := &fakeDevices{polls: []pollReply{pending, {err: &api.Error{Status: 500, Message: "boom"}}}}
	b, store, rec := newBootstrap(&fakeKeys{}, devices)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	err := b.Enable(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrConsentPending)
	assert.Equal(t, model.EncryptionDisabled, b.Status())
	assert.Len(t, rec.notified, 1)
	id, _ := store.GetConsentID(ctx, "self")
	assert.Empty(t, id)
}

func TestPollConsent_RejectedDisables(t *testing.T) {
	devices := &fakeDevices{polls: []pollReply{{res: &api.ConsentResult{Status: model.ConsentRejected}}}}
	b, _, rec := newBootstrap(&fakeKeys{}, devices)
	require.NoError(t, b.Start(context.Background()))

	err := b.Enable(context.Background())
	assert.ErrorIs(t, err, ErrConsentRejected)
	assert.Equal(t, model.EncryptionDisabled, b.Status())
	assert.Len(t, rec.notified, 1)
}

func TestPollConsent_TimeoutKeepsPolling(t *testing.T) {
	devices := &fakeDevices{polls: []pollReply{pending}}
	store := memory.New(time.Minute)
	rec := &recorder{}
	b := NewBootstrap(&fakeKeys{}, devices, store, rec, Options{
		SelfGID: "self", PollInterval: 5 * time.Millisecond, PollTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	err := b.Enable(ctx)
	require.ErrorIs(t, err, api.ErrConsentPending)
	assert.Equal(t, model.EncryptionPolling, b.Status())
	assert.Empty(t, rec.notified)
	id, _ := store.GetConsentID(ctx, "self")
	assert.Equal(t, "cons-1", id)

	// повторный опрос продолжает то же согласие
	devices.mu.Lock()
	devices.polls = []pollReply{completed("dev-3")}
	devices.polled = nil
	devices.mu.Unlock()
	require.NoError(t, b.PollConsent(ctx))
	assert.Equal(t, model.EncryptionEnabled, b.Status())
}

func TestEnable_CancelledContextDropsTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	devices := &fakeDevices{register: func(context.Context) (*api.RegisterDeviceResponse, error) {
		cancel()
		return &api.RegisterDeviceResponse{ConsentID: "cons-1"}, nil
	}}
	b, store, rec := newBootstrap(&fakeKeys{}, devices)
	require.NoError(t, b.Start(context.Background()))

	err := b.Enable(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.EncryptionKeyManagerInitialized, b.Status())
	assert.Empty(t, rec.notified)
	id, _ := store.GetConsentID(context.Background(), "self")
	assert.Empty(t, id)
}

func TestEnable_AcceptedWithoutBodyKeepsPolling(t *testing.T) {
	var polls atomic.Int32
	r := chi.NewRouter()
	r.Get("/devices/own", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"devices": []model.Device{}})
	})
	r.Post("/devices", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.RegisterDeviceResponse{ConsentID: "cons-http"})
	})
	r.Post("/consent/poll", func(w http.ResponseWriter, req *http.Request) {
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ConsentResult{Status: model.ConsentCompleted, DeviceID: "dev-http"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	keys := &fakeKeys{}
	rec := &recorder{}
	b := NewBootstrap(keys, api.NewClient(srv.URL, api.Options{}), memory.New(time.Minute), rec, Options{
		SelfGID: "self", PollInterval: time.Millisecond, PollTimeout: 5 * time.Second,
	})
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.Enable(ctx))
	assert.Equal(t, model.EncryptionEnabled, b.Status())
	assert.Equal(t, "dev-http", keys.deviceID)
	assert.EqualValues(t, 3, polls.Load())
	assert.Empty(t, rec.notified)
}
