package bot

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/cache/memory"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/wizard"
)

type outbound struct {
	text  string
	photo string
	kb    domain.Keyboard
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []outbound
	acks []string
}

func (f *fakeMessenger) Send(_ context.Context, _, text string, kb domain.Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outbound{text: text, kb: kb})
	return "m", nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, _, photo, caption string, kb domain.Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outbound{text: caption, photo: photo, kb: kb})
	return "m", nil
}

func (f *fakeMessenger) Edit(context.Context, string, string, string, domain.Keyboard) error {
	return nil
}

func (f *fakeMessenger) Ack(_ context.Context, _ domain.Event, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.text
	}
	return out
}

type fakeGate struct {
	status  domain.EpochStatus
	err     error
	pending domain.PendingEpochs
}

func (g *fakeGate) ReadStatus(context.Context) (domain.EpochStatus, error) { return g.status, g.err }
func (g *fakeGate) ReadPending(context.Context) domain.PendingEpochs       { return g.pending }

// fakeChain serves reads only; writes fail.
type fakeChain struct {
	balance *big.Int
}

func (f *fakeChain) CurrentEpoch(context.Context) (domain.EpochInfo, error) {
	return domain.EpochInfo{}, errors.New("unused")
}

func (f *fakeChain) EpochPhase(context.Context, *big.Int) (domain.EpochPhase, error) {
	return 0, errors.New("unused")
}

func (f *fakeChain) PendingEpochs(context.Context) (domain.PendingEpochs, error) {
	return domain.PendingEpochs{}, nil
}

func (f *fakeChain) TokenBalance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) CreationFee(context.Context) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeChain) TokenDecimals(context.Context) (uint8, error)  { return 6, nil }

func (f *fakeChain) EnsureAllowance(context.Context, domain.Identity, common.Address, *big.Int) error {
	return errors.New("unused")
}

func (f *fakeChain) CreateMarket(context.Context, domain.Identity, domain.CreateMarketParams) (domain.CreatedMarket, error) {
	return domain.CreatedMarket{}, errors.New("unused")
}

func (f *fakeChain) PlaceBet(context.Context, domain.Identity, common.Address, domain.Side, *big.Int) (domain.TxResult, error) {
	return domain.TxResult{}, errors.New("unused")
}

func (f *fakeChain) Transfer(context.Context, domain.Identity, common.Address, *big.Int) (domain.TxResult, error) {
	return domain.TxResult{}, errors.New("unused")
}

func (f *fakeChain) FactoryAddress() common.Address { return common.Address{} }

var walletAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")

type fakeWallets struct {
	mu       sync.Mutex
	ensured  []string
	ensureFn func() error
	missing  bool
}

func (w *fakeWallets) EnsureUser(_ context.Context, userID, _ string) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured = append(w.ensured, userID)
	if w.ensureFn != nil {
		return common.Address{}, w.ensureFn()
	}
	return walletAddr, nil
}

func (w *fakeWallets) Address(context.Context, string) (common.Address, error) {
	if w.missing {
		return common.Address{}, domain.ErrNoWallet
	}
	return walletAddr, nil
}

func (w *fakeWallets) Resolve(_ context.Context, userID string) (domain.Identity, error) {
	if w.missing {
		return domain.Identity{}, domain.ErrNoWallet
	}
	return domain.Identity{UserID: userID, Address: walletAddr}, nil
}

type fakeMarkets struct {
	markets []domain.Market
	err     error
	limit   int
}

func (s *fakeMarkets) Insert(context.Context, domain.Market) error { return nil }

func (s *fakeMarkets) GetByAddress(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarkets) ListActive(_ context.Context, _ time.Time, limit int) ([]domain.Market, error) {
	s.limit = limit
	return s.markets, s.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type fixture struct {
	bot      *Bot
	msgs     *fakeMessenger
	gate     *fakeGate
	wallets  *fakeWallets
	markets  *fakeMarkets
	refs     *memory.RefCache
	sessions *session.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := discardLogger()
	f := &fixture{
		msgs:     &fakeMessenger{},
		gate:     &fakeGate{},
		wallets:  &fakeWallets{},
		markets:  &fakeMarkets{},
		refs:     memory.NewRefCache(0),
		sessions: session.NewStore(session.Config{}, logger),
	}
	chain := &fakeChain{balance: big.NewInt(12_500_000)}
	machine := wizard.New(wizard.Deps{
		Messenger:  f.msgs,
		Sessions:   f.sessions,
		Gate:       f.gate,
		Chain:      chain,
		Identities: f.wallets,
		Markets:    f.markets,
		Refs:       f.refs,
		Locks:      memory.NewLockManager(),
	}, wizard.Config{}, logger)
	f.bot = New(Deps{
		Messenger: f.msgs,
		Sessions:  f.sessions,
		Wizard:    machine,
		Gate:      f.gate,
		Chain:     chain,
		Wallets:   f.wallets,
		Markets:   f.markets,
		Refs:      f.refs,
	}, Config{ListLimit: 5}, logger)
	return f
}

func (f *fixture) text(s string) {
	f.bot.handle(context.Background(), domain.Event{Kind: domain.EventText, ChatID: "c1", UserID: "u1", Username: "alice", Text: s})
}

func (f *fixture) last(t *testing.T) string {
	t.Helper()
	texts := f.msgs.texts()
	if len(texts) == 0 {
		t.Fatal("nothing sent")
	}
	return texts[len(texts)-1]
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/start", "start", "", true},
		{"  /Markets@SpreddBot  ", "markets", "", true},
		{"/withdraw 0xabc 5", "withdraw", "0xabc 5", true},
		{"/", "", "", false},
		{"hello", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		if name != tt.wantName || args != tt.wantArgs || ok != tt.wantOK {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, name, args, ok)
		}
	}
}

func TestStartProvisionsInBackground(t *testing.T) {
	f := newFixture(t)
	f.text("/start")
	f.bot.detached.Wait()

	if !strings.HasPrefix(f.msgs.texts()[0], "Welcome") {
		t.Fatalf("first reply = %q", f.msgs.texts()[0])
	}
	if len(f.wallets.ensured) != 1 || f.wallets.ensured[0] != "u1" {
		t.Fatalf("ensured = %v", f.wallets.ensured)
	}
}

func TestStartProvisioningFailureIsDropped(t *testing.T) {
	f := newFixture(t)
	f.wallets.ensureFn = func() error { return errors.New("db down") }
	f.text("/start")
	f.bot.detached.Wait()

	if got := f.msgs.texts(); len(got) != 1 {
		t.Fatalf("sent %d messages, want only the welcome: %v", len(got), got)
	}
}

func TestMarketsFillsRefCache(t *testing.T) {
	f := newFixture(t)
	end := time.Now().Add(48 * time.Hour)
	f.markets.markets = []domain.Market{
		{ChainMarketID: "1", Question: "Will A?", OptionA: "Yes", OptionB: "No", EndTime: end, ContractAddress: "0x01"},
		{ChainMarketID: "2", Question: "Will B?", OptionA: "Up", OptionB: "Down", EndTime: end, ContractAddress: "0x02", ImageURL: "https://img/2.png"},
	}

	f.text("/markets")

	if f.markets.limit != 5 {
		t.Fatalf("list limit = %d, want 5", f.markets.limit)
	}
	if f.refs.Len() != 2 {
		t.Fatalf("ref cache size = %d, want 2", f.refs.Len())
	}
	ref, ok := f.refs.Get("m2")
	if !ok || ref.Question != "Will B?" || ref.Provenance != domain.ProvenanceStore {
		t.Fatalf("m2 = %+v, %v", ref, ok)
	}

	sent := f.msgs.sent
	if len(sent) != 2 || sent[1].photo != "https://img/2.png" {
		t.Fatalf("sent = %+v", sent)
	}
	if got := sent[0].kb[0][1].Data; got != wizard.DataBetPrefix+"m1:b" {
		t.Fatalf("bet button data = %q", got)
	}
}

func TestMarketsEmpty(t *testing.T) {
	f := newFixture(t)
	f.text("/markets")
	if f.last(t) != msgNoMarkets {
		t.Fatalf("reply = %q", f.last(t))
	}
}

func TestEpochRendersStatusAndNoPending(t *testing.T) {
	f := newFixture(t)
	f.gate.status = domain.EpochStatus{
		EpochID:     big.NewInt(12),
		Phase:       domain.EpochPendingFinalize,
		WindowStart: 0,
		WindowEnd:   86400,
		RewardPool:  big.NewInt(5_000_000),
	}
	f.text("/epoch")

	got := f.last(t)
	for _, want := range []string{"Epoch #12: pending finalize", "Reward pool: 5", msgNoPending} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply %q missing %q", got, want)
		}
	}
}

func TestEpochUnavailableWithPending(t *testing.T) {
	f := newFixture(t)
	f.gate.err = domain.ErrReaderUnavailable
	f.gate.pending = domain.PendingEpochs{
		IDs:     []*big.Int{big.NewInt(10), big.NewInt(11)},
		Rewards: []*big.Int{big.NewInt(1_500_000), big.NewInt(0)},
	}
	f.text("/epoch")

	got := f.last(t)
	for _, want := range []string{msgEpochDown, "Epoch #10: 1.5", "Epoch #11: 0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply %q missing %q", got, want)
		}
	}
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	f.text("/balance")
	if got := f.last(t); !strings.Contains(got, "Balance: 12.5") || !strings.Contains(got, walletAddr.Hex()) {
		t.Fatalf("reply = %q", got)
	}

	f.wallets.missing = true
	f.text("/balance")
	if f.last(t) != msgNoWallet {
		t.Fatalf("reply = %q", f.last(t))
	}
}

func TestCreateCommandStartsWizard(t *testing.T) {
	f := newFixture(t)
	f.text("/create")
	sess, ok := f.sessions.Get("c1")
	if !ok {
		t.Fatal("no session after /create")
	}
	if _, ok := sess.Flow.(*session.CreateMarket); !ok {
		t.Fatalf("flow = %T", sess.Flow)
	}

	f.text("/cancel")
	if _, ok := f.sessions.Get("c1"); ok {
		t.Fatal("session survived /cancel")
	}
}

func TestUnhandledInput(t *testing.T) {
	f := newFixture(t)
	f.text("hello there")
	if f.last(t) != msgHint {
		t.Fatalf("reply = %q", f.last(t))
	}
	f.text("/nope")
	if f.last(t) != msgUnknown {
		t.Fatalf("reply = %q", f.last(t))
	}
	f.bot.handle(context.Background(), domain.Event{Kind: domain.EventButton, ChatID: "c1", Data: "other"})
	if f.last(t) != msgStaleButton {
		t.Fatalf("reply = %q", f.last(t))
	}
}

func TestPanicResetsSession(t *testing.T) {
	f := newFixture(t)
	f.text("/create")
	f.bot.onPanic(context.Background(), domain.Event{ChatID: "c1"}, "boom")

	if _, ok := f.sessions.Get("c1"); ok {
		t.Fatal("session survived a panic")
	}
	if f.last(t) != msgCrashed {
		t.Fatalf("reply = %q", f.last(t))
	}
}

func TestRateLimitedButtonIsAckedAndDropped(t *testing.T) {
	f := newFixture(t)
	f.bot.Limiter = denyLimiter{}
	f.bot.cfg.RateLimitPerMinute = 1

	f.bot.OnEvent(context.Background(), domain.Event{Kind: domain.EventButton, ChatID: "c1", UserID: "u1", Data: wizard.DataCancel})

	if len(f.msgs.acks) != 1 || f.msgs.acks[0] != msgSlowDown {
		t.Fatalf("acks = %v", f.msgs.acks)
	}
	if f.bot.dispatcher.Workers() != 0 {
		t.Fatal("rate limited event was queued")
	}
}
