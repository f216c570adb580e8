package app_test

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/app"
	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/domain/domaintest"
	"github.com/kossrlive/isignin/internal/multipass"
	"github.com/kossrlive/isignin/internal/oauth"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/settings"
	"github.com/kossrlive/isignin/internal/shopify"
	"github.com/kossrlive/isignin/internal/store"
)

// fakeDirectory is an in-memory customer directory.
type fakeDirectory struct {
	mu      sync.Mutex
	byEmail map[string]*shopify.Customer
	byPhone map[string]*shopify.Customer
	meta    map[string]map[string]string
	nextID  int
	fail    bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byEmail: map[string]*shopify.Customer{},
		byPhone: map[string]*shopify.Customer{},
		meta:    map[string]map[string]string{},
		nextID:  1,
	}
}

func (d *fakeDirectory) FindByEmail(_ context.Context, email string) (*shopify.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, domain.ErrDirectoryFailure
	}
	if c, ok := d.byEmail[email]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (d *fakeDirectory) FindByPhone(_ context.Context, phone string) (*shopify.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, domain.ErrDirectoryFailure
	}
	if c, ok := d.byPhone[phone]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (d *fakeDirectory) Create(_ context.Context, params shopify.CreateParams) (*shopify.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, domain.ErrDirectoryFailure
	}
	c := &shopify.Customer{
		ID:        "C" + strconv.Itoa(d.nextID),
		Email:     params.Email,
		Phone:     params.Phone,
		FirstName: params.FirstName,
		LastName:  params.LastName,
	}
	d.nextID++
	if c.Email != "" {
		d.byEmail[c.Email] = c
	}
	if c.Phone != "" {
		d.byPhone[c.Phone] = c
	}
	clone := *c
	return &clone, nil
}

func (d *fakeDirectory) SetMetadata(_ context.Context, customerID string, fields map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return domain.ErrDirectoryFailure
	}
	if d.meta[customerID] == nil {
		d.meta[customerID] = map[string]string{}
	}
	for k, v := range fields {
		d.meta[customerID][k] = v
	}
	return nil
}

func (d *fakeDirectory) GetMetadata(_ context.Context, customerID, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.meta[customerID][key]; ok {
		return v, nil
	}
	return "", domain.ErrNotFound
}

func (d *fakeDirectory) metadata(customerID, key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta[customerID][key]
}

// fakeSettings serves a fixed settings record.
type fakeSettings struct {
	s settings.Settings
}

func (f *fakeSettings) Get(context.Context) (settings.Settings, error) { return f.s, nil }

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) all() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job(nil), q.jobs...)
}

// harness bundles the service with its fakes.
type harness struct {
	svc       *app.Service
	store     *store.Memory
	clock     *domaintest.FakeClock
	directory *fakeDirectory
	queue     *recordingQueue
	settings  *fakeSettings
	engine    *otp.Engine
	orders    *otp.OrderConfirmation
	oauth     map[string]oauth.Provider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := domaintest.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clock)
	t.Cleanup(func() { _ = mem.Close() })

	engine := otp.NewEngine(mem, clock, otp.Config{})
	orders := otp.NewOrderConfirmation(mem, clock)

	minter, err := multipass.NewMinter(multipass.MinterConfig{
		Secret:     "0123456789abcdef0123456789abcdef",
		ShopDomain: "shop.example.com",
		Clock:      clock,
	})
	require.NoError(t, err)

	directory := newFakeDirectory()
	q := &recordingQueue{}
	cfg := &fakeSettings{s: settings.Defaults()}
	oauthProviders := map[string]oauth.Provider{}

	svc := app.NewService(app.ServiceConfig{
		Store:      mem,
		OTP:        engine,
		Orders:     orders,
		Queue:      q,
		Minter:     minter,
		Directory:  directory,
		Settings:   cfg,
		Providers:  oauthProviders,
		Clock:      clock,
		Logger:     slog.Default(),
		BcryptCost: 4, // keep the KDF cheap in tests
	})

	return &harness{
		svc:       svc,
		store:     mem,
		clock:     clock,
		directory: directory,
		queue:     q,
		settings:  cfg,
		engine:    engine,
		orders:    orders,
		oauth:     oauthProviders,
	}
}

// fixedCodes returns a generator handing out codes in order.
func fixedCodes(codes ...string) func(int) (string, error) {
	i := 0
	return func(int) (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

// issuedCode extracts the code from the enqueued SMS message.
func issuedCode(t *testing.T, job queue.Job) string {
	t.Helper()
	var code string
	_, err := fmt.Sscanf(job.Message, "Your verification code is: %6s", &code)
	require.NoError(t, err)
	return code[:6]
}
