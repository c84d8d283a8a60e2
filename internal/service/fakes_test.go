package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/JimiYounger/connect-sub001/internal/client"
	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/recipient"
	"github.com/JimiYounger/connect-sub001/internal/repo"
	"github.com/JimiYounger/connect-sub001/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu          sync.Mutex
	fail        map[string]error
	block       bool
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
	bodies      map[string]string
	hold        map[string]chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[string]error{}, bodies: map[string]string{}, hold: map[string]chan struct{}{}}
}

func (g *fakeGateway) Submit(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error) {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	id := fmt.Sprintf("SM%03d", g.calls)
	g.bodies[req.To] = req.Body
	err := g.fail[req.To]
	block, delay, hold := g.block, g.delay, g.hold[req.To]
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return client.SubmitResult{}, ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return client.SubmitResult{}, ctx.Err()
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return client.SubmitResult{}, ctx.Err()
		}
	}
	if err != nil {
		return client.SubmitResult{}, err
	}
	return client.SubmitResult{CarrierID: id, Status: "queued"}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type memIndex struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemIndex() *memIndex { return &memIndex{m: map[string]string{}} }

func (i *memIndex) StoreSent(_ context.Context, messageID, carrierID string, _ time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.m[carrierID] = messageID
	return nil
}

func (i *memIndex) LookupCarrier(_ context.Context, carrierID string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, ok := i.m[carrierID]
	return id, ok, nil
}

type publishedEvent struct {
	Type          string
	CorrelationID string
	Data          any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, correlationID string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType, correlationID, data})
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type brokenPrefs struct {
	repo.PreferenceRepository
}

func (brokenPrefs) GetPreference(context.Context, string) (*model.Preference, error) {
	return nil, errors.New("preferences unavailable")
}

func (brokenPrefs) ListOptedOut(context.Context) ([]string, error) {
	return nil, errors.New("preferences unavailable")
}

type fixture struct {
	store    *repo.MemoryStore
	gw       *fakeGateway
	idx      *memIndex
	pub      *recordingPublisher
	resolver *recipient.Resolver
	orch     *service.Orchestrator
	bulk     *service.BulkSender
	rec      *service.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repo.NewMemoryStore()
	f := &fixture{
		store: store,
		gw:    newFakeGateway(),
		idx:   newMemIndex(),
		pub:   &recordingPublisher{},
	}
	f.resolver = recipient.NewResolver(store, store, nil)
	f.build(time.Second, 4)
	return f
}

func (f *fixture) build(timeout time.Duration, concurrency int) {
	f.orch = service.NewOrchestrator(f.resolver, f.store, f.store, f.gw, timeout).
		WithCallbackURL("https://msg.example.test/v1/webhooks/carrier/status").
		WithCarrierIndex(f.idx).
		WithPublisher(f.pub)
	f.bulk = service.NewBulkSender(f.orch, f.store, concurrency)
	f.rec = service.NewReconciler(f.store, f.resolver).
		WithCarrierIndex(f.idx).
		WithPublisher(f.pub)
}

func (f *fixture) addProfile(id, first, phone string) model.Recipient {
	p := model.Profile{ID: id, FirstName: first, LastName: "Tester", Email: id + "@example.test"}
	if phone != "" {
		p.Phone = &phone
	}
	f.store.AddProfile(p)
	return model.RecipientFromProfile(p)
}

func phoneOf(i int) string {
	return fmt.Sprintf("+1555000%04d", i)
}
