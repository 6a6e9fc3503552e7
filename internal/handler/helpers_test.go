package handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/l1jgo/loginserver/internal/auth"
	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/dispatch"
	lnet "github.com/l1jgo/loginserver/internal/net"
	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/world"
	"go.uber.org/zap"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 1024)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// fakeClient records everything the handshake does to the connection.
type fakeClient struct {
	mu           sync.Mutex
	id           uint64
	ip           string
	sent         [][]byte
	disconnects  int
	closed       bool
	checksum     bool
	key          *[4]uint32
	state        packet.SessionState
	checksumSets int
}

func newFakeClient() *fakeClient {
	return &fakeClient{id: 9, ip: "10.1.2.3"}
}

func (c *fakeClient) ID() uint64       { return c.id }
func (c *fakeClient) RemoteIP() string { return c.ip }

func (c *fakeClient) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnects > 0 || c.closed {
		return
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.state = packet.StateDisconnecting
	c.mu.Unlock()
}

func (c *fakeClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close simulates the peer dropping the connection.
func (c *fakeClient) close() {
	c.mu.Lock()
	c.closed = true
	c.state = packet.StateDisconnecting
	c.mu.Unlock()
}

func (c *fakeClient) EnableChecksum() {
	c.mu.Lock()
	c.checksum = true
	c.checksumSets++
	c.mu.Unlock()
}

func (c *fakeClient) InstallKey(words [4]uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		return lnet.ErrKeyInstalled
	}
	c.key = &words
	return nil
}

func (c *fakeClient) SetState(st packet.SessionState) {
	c.mu.Lock()
	c.state = max(c.state, st)
	c.mu.Unlock()
}

// fakeScheduler records tasks and optionally runs them inline.
type fakeScheduler struct {
	tasks  []dispatch.Task
	runNow bool
	err    error
}

func (s *fakeScheduler) Schedule(_ uint64, t dispatch.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, t)
	if s.runNow {
		t.Run(context.Background())
	}
	return nil
}

type fakeAccount struct {
	password string
	acc      persist.Account
}

type fakeAccounts struct {
	byName map[string]fakeAccount
	err    error
	logins int
}

func (a *fakeAccounts) Authenticate(_ context.Context, name, password string) (*persist.Account, error) {
	if a.err != nil {
		return nil, a.err
	}
	fa, ok := a.byName[name]
	if !ok || fa.password != password {
		return nil, persist.ErrInvalidCredentials
	}
	acc := fa.acc
	return &acc, nil
}

func (a *fakeAccounts) UpdateLastLogin(context.Context, int64, string) error {
	a.logins++
	return nil
}

type fakeBans struct {
	byIP map[string]*persist.BanInfo
	err  error
}

func (b *fakeBans) IPBan(_ context.Context, ip string, _ time.Time) (*persist.BanInfo, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.byIP[ip], nil
}

// countingRSA counts decrypt calls; panicRSA must never be called.
type countingRSA struct {
	inner BlockDecrypter
	calls int
}

func (r *countingRSA) DecryptBlock(b []byte) error {
	r.calls++
	return r.inner.DecryptBlock(b)
}

type panicRSA struct{}

func (panicRSA) DecryptBlock([]byte) error { panic("decrypt must not be called") }

var errStoreDown = errors.New("store down")

type fixture struct {
	cfg      *config.Config
	deps     *Deps
	client   *fakeClient
	sched    *fakeScheduler
	accounts *fakeAccounts
	bans     *fakeBans
	world    *world.State
	rsa      *countingRSA
	events   *event.Bus
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key := rsaKey(t)
	dec, err := lnet.NewRSA(key)
	if err != nil {
		t.Fatalf("NewRSA: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Name:         "Forgotten",
			IP:           "127.0.0.1",
			GamePort:     7172,
			LiveCastPort: 7173,
		},
		Login: config.LoginConfig{
			VersionMin: 1097,
			VersionMax: 1100,
			VersionStr: "10.97",
		},
	}
	w := world.NewState()
	w.SetGameState(world.GameNormal)

	f := &fixture{
		cfg:      cfg,
		client:   newFakeClient(),
		sched:    &fakeScheduler{},
		accounts: &fakeAccounts{byName: map[string]fakeAccount{}},
		bans:     &fakeBans{byIP: map[string]*persist.BanInfo{}},
		world:    w,
		rsa:      &countingRSA{inner: dec},
		events:   event.NewBus(zap.NewNop()),
		now:      time.Unix(1_700_000_000, 0),
	}
	f.deps = &Deps{
		Config:     cfg,
		Log:        zap.NewNop(),
		RSA:        f.rsa,
		Accounts:   f.accounts,
		Bans:       f.bans,
		World:      w,
		Dispatcher: f.sched,
		Tokens:     auth.New(),
		Events:     f.events,
		Now:        func() time.Time { return f.now },
	}
	return f
}

// helloSpec describes a client first message.
type helloSpec struct {
	version  uint16
	key      [4]uint32
	account  string
	password string
	token    string
	gap      int  // bytes between the two RSA blocks
	badToken bool // corrupt the token block sentinel
}

func defaultHello() helloSpec {
	return helloSpec{
		version:  1100,
		key:      [4]uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444},
		account:  "tester",
		password: "hunter2",
	}
}

func rsaPlain(t *testing.T, fill func(w *packet.Writer)) []byte {
	t.Helper()
	w := packet.NewWriter()
	fill(w)
	if w.Len() > lnet.RSABlockSize {
		t.Fatalf("rsa plaintext %d bytes", w.Len())
	}
	block := make([]byte, lnet.RSABlockSize)
	copy(block, w.Bytes())
	return block
}

func encrypt(t *testing.T, block []byte) []byte {
	t.Helper()
	if err := lnet.EncryptBlock(&rsaKey(t).PublicKey, block); err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}
	return block
}

// buildHello lays the message out as the client does, without the protocol byte.
func buildHello(t *testing.T, h helloSpec) []byte {
	t.Helper()
	w := packet.NewWriter()
	w.WriteH(2) // client os
	w.WriteH(h.version)
	w.WriteBytes(make([]byte, signatureSize))

	first := rsaPlain(t, func(p *packet.Writer) {
		p.WriteC(0)
		for _, k := range h.key {
			p.WriteD(k)
		}
		p.WriteS(h.account)
		p.WriteS(h.password)
	})
	w.WriteBytes(encrypt(t, first))
	w.WriteBytes(make([]byte, h.gap))

	second := rsaPlain(t, func(p *packet.Writer) {
		if h.badToken {
			p.WriteC(1) // still below the modulus, but not a valid sentinel
		} else {
			p.WriteC(0)
		}
		p.WriteS(h.token)
	})
	w.WriteBytes(encrypt(t, second))
	return w.Bytes()
}

// legacyHello is a pre-encryption client message: no RSA at all.
func legacyHello(version uint16) []byte {
	w := packet.NewWriter()
	w.WriteH(2)
	w.WriteH(version)
	w.WriteBytes(make([]byte, signatureSize))
	w.WriteS("tester")
	w.WriteS("hunter2")
	return w.Bytes()
}

// readDisconnect parses a disconnect response.
func readDisconnect(t *testing.T, b []byte) (byte, string) {
	t.Helper()
	r := packet.NewReader(b)
	op, err := r.ReadC()
	if err != nil {
		t.Fatalf("read opcode: %v", err)
	}
	msg, err := r.ReadS()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("%d trailing bytes after disconnect message", r.Remaining())
	}
	return op, msg
}

// must is a test shorthand for reads that have to succeed.
func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return v
	}
}
