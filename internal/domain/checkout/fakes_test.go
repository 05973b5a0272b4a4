package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mernshop/checkout/internal/domain/discount"
	"github.com/mernshop/checkout/internal/domain/order"
)

// --- Gateway ---

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	sessions  map[string]*Session
	lastReq   SessionRequest
	creates   int
	retrieves int

	createErr   error
	retrieveErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*Session)}
}

func (g *fakeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.lastReq = req

	var sum int64
	for _, l := range req.Lines {
		sum += l.Subtotal()
	}
	g.seq++
	md := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		md[k] = v
	}
	s := &Session{
		ID:            fmt.Sprintf("cs_test_%d", g.seq),
		PaymentStatus: "unpaid",
		Metadata:      md,
		AmountTotal:   discount.Apply(sum, req.DiscountPercentage),
	}
	g.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieves++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) pay(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].PaymentStatus = PaymentStatusPaid
}

func (g *fakeGateway) calls() (creates, retrieves int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.retrieves
}

// --- Discount storage ---

type memCodes struct {
	mu    sync.Mutex
	codes map[[2]string]*discount.Code
}

func newMemCodes(codes ...*discount.Code) *memCodes {
	m := &memCodes{codes: make(map[[2]string]*discount.Code)}
	for _, c := range codes {
		m.codes[[2]string{c.Code, c.UserID}] = c
	}
	return m
}

func (m *memCodes) FindActive(_ context.Context, code, userID string) (*discount.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[[2]string{code, userID}]
	if !ok || !c.Active {
		return nil, discount.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodes) FindActiveByUser(_ context.Context, userID string) (*discount.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.UserID == userID && c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (m *memCodes) Deactivate(_ context.Context, code, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[[2]string{code, userID}]; ok {
		c.Active = false
	}
	return nil
}

func (m *memCodes) ReplaceForUser(_ context.Context, c *discount.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.codes {
		if k[1] == c.UserID {
			delete(m.codes, k)
		}
	}
	cp := *c
	m.codes[[2]string{c.Code, c.UserID}] = &cp
	return nil
}

func (m *memCodes) Upsert(_ context.Context, c *discount.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.codes[[2]string{c.Code, c.UserID}] = &cp
	return nil
}

func (m *memCodes) activeFor(userID string) []discount.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []discount.Code
	for _, c := range m.codes {
		if c.UserID == userID && c.Active {
			out = append(out, *c)
		}
	}
	return out
}

// spyDiscounts records ledger calls and can inject failures.
type spyDiscounts struct {
	*discount.Ledger

	mu            sync.Mutex
	deactivations []string
	issued        int
	issueErr      error
	lookupErr     error
}

func (s *spyDiscounts) LookupActive(ctx context.Context, code, userID string) (*discount.Code, bool, error) {
	if s.lookupErr != nil {
		return nil, false, s.lookupErr
	}
	return s.Ledger.LookupActive(ctx, code, userID)
}

func (s *spyDiscounts) Deactivate(ctx context.Context, code, userID string) error {
	s.mu.Lock()
	s.deactivations = append(s.deactivations, code+"/"+userID)
	s.mu.Unlock()
	return s.Ledger.Deactivate(ctx, code, userID)
}

func (s *spyDiscounts) IssueReward(ctx context.Context, userID string) (*discount.Code, error) {
	s.mu.Lock()
	s.issued++
	s.mu.Unlock()
	if s.issueErr != nil {
		return nil, &discount.RewardIssuanceError{UserID: userID, Err: s.issueErr}
	}
	return s.Ledger.IssueReward(ctx, userID)
}

// --- Orders ---

type memOrders struct {
	mu        sync.Mutex
	bySession map[string]*order.Order
}

func newMemOrders() *memOrders {
	return &memOrders{bySession: make(map[string]*order.Order)}
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[o.SessionID]; ok {
		return order.ErrDuplicateSession
	}
	cp := *o
	m.bySession[o.SessionID] = &cp
	return nil
}

func (m *memOrders) FindBySessionID(_ context.Context, sessionID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.bySession[sessionID]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySession)
}

// --- Optional collaborators ---

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) PublishOrderCompleted(_ context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, o.ID)
	return p.err
}

type fakeCache struct {
	mu        sync.Mutex
	entries   map[string]string
	lookupErr error
	storeErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Lookup(_ context.Context, sessionID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return "", false, c.lookupErr
	}
	id, ok := c.entries[sessionID]
	return id, ok, nil
}

func (c *fakeCache) Store(_ context.Context, sessionID, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return c.storeErr
	}
	c.entries[sessionID] = orderID
	return nil
}

// --- Fixture ---

type fixture struct {
	gateway   *fakeGateway
	codes     *memCodes
	discounts *spyDiscounts
	orders    *memOrders
	svc       *Service
}

func newFixture(opts Options, codes ...*discount.Code) *fixture {
	f := &fixture{
		gateway: newFakeGateway(),
		codes:   newMemCodes(codes...),
		orders:  newMemOrders(),
	}
	f.discounts = &spyDiscounts{Ledger: discount.NewLedger(f.codes, discount.DefaultPolicy())}
	svc, err := NewService(f.gateway, f.discounts, order.NewRecorder(f.orders), opts)
	if err != nil {
		panic(err)
	}
	f.svc = svc
	return f
}

func activeCode(code, userID string, pct int) *discount.Code {
	return &discount.Code{
		Code:       code,
		UserID:     userID,
		Percentage: pct,
		Active:     true,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		CreatedAt:  time.Now().Add(-time.Hour),
	}
}
