package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/cache/memory"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

type sentMessage struct {
	text string
	kb   domain.Keyboard
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []sentMessage
	edits []sentMessage
}

func (f *fakeMessenger) Send(_ context.Context, _, text string, kb domain.Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{text: text, kb: kb})
	return "msg", nil
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, chatID, _, caption string, kb domain.Keyboard) (string, error) {
	return f.Send(ctx, chatID, caption, kb)
}

func (f *fakeMessenger) Edit(_ context.Context, _, _, text string, kb domain.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{text: text, kb: kb})
	return nil
}

func (f *fakeMessenger) Ack(context.Context, domain.Event, string) error { return nil }

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeMessenger) anyContains(sub string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.sent {
		if strings.Contains(m.text, sub) {
			return true
		}
	}
	return false
}

type fakeGate struct {
	status domain.EpochStatus
	err    error
	reads  int
}

func (g *fakeGate) ReadStatus(context.Context) (domain.EpochStatus, error) {
	g.reads++
	return g.status, g.err
}

func (g *fakeGate) ReadPending(context.Context) domain.PendingEpochs { return domain.PendingEpochs{} }

type betCall struct {
	market common.Address
	side   domain.Side
	amount *big.Int
}

type fakeChain struct {
	balance  *big.Int
	fee      *big.Int
	decimals uint8

	createErr error
	created   domain.CreatedMarket
	betErr    error

	creates    []domain.CreateMarketParams
	allowances int
	bets       []betCall
	transfers  []*big.Int
}

var testFactory = common.HexToAddress("0x00000000000000000000000000000000000000f1")

func (f *fakeChain) CurrentEpoch(context.Context) (domain.EpochInfo, error) {
	return domain.EpochInfo{}, errors.New("not used")
}

func (f *fakeChain) EpochPhase(context.Context, *big.Int) (domain.EpochPhase, error) {
	return 0, errors.New("not used")
}

func (f *fakeChain) PendingEpochs(context.Context) (domain.PendingEpochs, error) {
	return domain.PendingEpochs{}, nil
}

func (f *fakeChain) TokenBalance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) CreationFee(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeChain) TokenDecimals(context.Context) (uint8, error) { return f.decimals, nil }

func (f *fakeChain) EnsureAllowance(context.Context, domain.Identity, common.Address, *big.Int) error {
	f.allowances++
	return nil
}

func (f *fakeChain) CreateMarket(_ context.Context, _ domain.Identity, p domain.CreateMarketParams) (domain.CreatedMarket, error) {
	f.creates = append(f.creates, p)
	if f.createErr != nil {
		return domain.CreatedMarket{}, f.createErr
	}
	return f.created, nil
}

func (f *fakeChain) PlaceBet(_ context.Context, _ domain.Identity, market common.Address, side domain.Side, amount *big.Int) (domain.TxResult, error) {
	f.bets = append(f.bets, betCall{market: market, side: side, amount: amount})
	if f.betErr != nil {
		return domain.TxResult{}, f.betErr
	}
	return domain.TxResult{TxHash: common.HexToHash("0xbe7")}, nil
}

func (f *fakeChain) Transfer(_ context.Context, _ domain.Identity, _ common.Address, amount *big.Int) (domain.TxResult, error) {
	f.transfers = append(f.transfers, amount)
	return domain.TxResult{TxHash: common.HexToHash("0x7e")}, nil
}

func (f *fakeChain) FactoryAddress() common.Address { return testFactory }

func (f *fakeChain) writes() int {
	return f.allowances + len(f.creates) + len(f.bets) + len(f.transfers)
}

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, userID string) (domain.Identity, error) {
	if r.err != nil {
		return domain.Identity{}, r.err
	}
	return domain.Identity{UserID: userID, Address: common.HexToAddress("0x00000000000000000000000000000000000000c0")}, nil
}

type fakeMarkets struct {
	inserted []domain.Market
	err      error
}

func (s *fakeMarkets) Insert(_ context.Context, m domain.Market) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, m)
	return nil
}

func (s *fakeMarkets) GetByAddress(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarkets) ListActive(context.Context, time.Time, int) ([]domain.Market, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type harness struct {
	m        *Machine
	msgs     *fakeMessenger
	gate     *fakeGate
	chain    *fakeChain
	markets  *fakeMarkets
	refs     *memory.RefCache
	locks    *memory.LockManager
	notifier *fakeNotifier
	sessions *session.Store
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		msgs:     &fakeMessenger{},
		gate:     &fakeGate{status: domain.EpochStatus{EpochID: big.NewInt(1), Phase: domain.EpochActive}},
		chain:    &fakeChain{balance: big.NewInt(100_000_000), fee: big.NewInt(10_000_000), decimals: 6},
		markets:  &fakeMarkets{},
		refs:     memory.NewRefCache(0),
		locks:    memory.NewLockManager(),
		notifier: &fakeNotifier{},
		sessions: session.NewStore(session.Config{}, logger),
	}
	h.chain.created = domain.CreatedMarket{
		TxResult: domain.TxResult{TxHash: common.HexToHash("0xabc"), BlockNumber: 9},
		Market: &domain.MarketCreatedEvent{
			MarketID: big.NewInt(77),
			Address:  common.HexToAddress("0x00000000000000000000000000000000000000b7"),
		},
	}
	h.m = New(Deps{
		Messenger:  h.msgs,
		Sessions:   h.sessions,
		Gate:       h.gate,
		Chain:      h.chain,
		Identities: &fakeResolver{},
		Markets:    h.markets,
		Refs:       h.refs,
		Locks:      h.locks,
		Notifier:   h.notifier,
	}, Config{}, logger)
	h.m.now = func() time.Time { return testNow }
	return h
}

const chat = "c1"

func (h *harness) text(t *testing.T, s string) {
	t.Helper()
	h.m.Handle(context.Background(), domain.Event{Kind: domain.EventText, ChatID: chat, UserID: "u1", Text: s})
}

func (h *harness) press(t *testing.T, data string) {
	t.Helper()
	if !h.m.Handle(context.Background(), domain.Event{Kind: domain.EventButton, ChatID: chat, UserID: "u1", Data: data, MessageID: "m1"}) {
		t.Fatalf("button %q not handled", data)
	}
}

func (h *harness) create(t *testing.T) *session.CreateMarket {
	t.Helper()
	sess, ok := h.sessions.Get(chat)
	if !ok {
		t.Fatal("no session")
	}
	c, ok := sess.Flow.(*session.CreateMarket)
	if !ok {
		t.Fatalf("flow = %T, want *session.CreateMarket", sess.Flow)
	}
	return c
}

// toConfirm drives a fresh wizard to the confirmation step.
func (h *harness) toConfirm(t *testing.T) {
	t.Helper()
	h.m.StartCreate(context.Background(), domain.Event{Kind: domain.EventText, ChatID: chat, UserID: "u1"})
	h.text(t, "Will X happen by 2030?")
	h.text(t, "Yes")
	h.text(t, "No")
	h.text(t, "2030-01-01")
	h.text(t, "skip")
	h.press(t, DataTagPrefix+"Crypto")
	h.press(t, DataTagPrefix+"Finance")
	h.press(t, DataTagsDone)
	if c := h.create(t); c.Step != session.StepConfirm {
		t.Fatalf("step = %s, want confirm", c.Step)
	}
}
