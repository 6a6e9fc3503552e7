package handler

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/world"
)

func TestValidHelloSchedulesOneTask(t *testing.T) {
	f := newFixture(t)
	h := defaultHello()
	h.token = "123456"

	if err := HandleLogin(f.client, buildHello(t, h), f.deps); err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	if len(f.sched.tasks) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(f.sched.tasks))
	}
	task, ok := f.sched.tasks[0].(*CharacterListTask)
	if !ok {
		t.Fatalf("task = %T", f.sched.tasks[0])
	}
	if task.Account != "tester" || task.Password != "hunter2" || task.Token != "123456" || task.Version != 1100 {
		t.Fatalf("task = %+v", task)
	}
	if f.client.key == nil || *f.client.key != h.key {
		t.Fatalf("key = %v, want %v", f.client.key, h.key)
	}
	if len(f.client.sent) != 0 || f.client.disconnects != 0 {
		t.Fatalf("handshake answered before dispatch: sent=%d disconnects=%d", len(f.client.sent), f.client.disconnects)
	}
	if f.client.state != packet.StateDispatched {
		t.Fatalf("state = %s", f.client.state)
	}
	if f.rsa.calls != 2 {
		t.Fatalf("rsa calls = %d, want 2", f.rsa.calls)
	}
}

func TestGapBetweenBlocksIsSkipped(t *testing.T) {
	f := newFixture(t)
	h := defaultHello()
	h.gap = 37
	h.token = "654321"

	if err := HandleLogin(f.client, buildHello(t, h), f.deps); err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	if task := f.sched.tasks[0].(*CharacterListTask); task.Token != "654321" {
		t.Fatalf("token = %q", task.Token)
	}
}

func TestLegacyVersionRejectedBeforeDecrypt(t *testing.T) {
	for _, version := range []uint16{0, 500, 740, 760} {
		f := newFixture(t)
		f.deps.RSA = panicRSA{}

		err := HandleLogin(f.client, legacyHello(version), f.deps)
		if !IsKind(err, KindProtocolTooOld) {
			t.Fatalf("version %d: err = %v", version, err)
		}
		if len(f.client.sent) != 1 {
			t.Fatalf("version %d: sent %d messages", version, len(f.client.sent))
		}
		op, msg := readDisconnect(t, f.client.sent[0])
		if op != 0x0A {
			t.Fatalf("opcode = 0x%02X, want 0x0A", op)
		}
		if msg != "Only clients with protocol 10.97 allowed!" {
			t.Fatalf("message = %q", msg)
		}
		if f.client.key != nil {
			t.Fatalf("key installed for legacy client")
		}
		if f.client.disconnects != 1 || len(f.sched.tasks) != 0 {
			t.Fatalf("disconnects=%d tasks=%d", f.client.disconnects, len(f.sched.tasks))
		}
	}
}

func TestChecksumModeFollowsVersion(t *testing.T) {
	for _, version := range []uint16{761, 800, 829, 830, 831, 1076, 1100, 65535} {
		f := newFixture(t)
		h := defaultHello()
		h.version = version
		HandleLogin(f.client, buildHello(t, h), f.deps)

		want := version >= 830
		if f.client.checksum != want {
			t.Errorf("version %d: checksum = %v, want %v", version, f.client.checksum, want)
		}
		if f.client.checksumSets > 1 {
			t.Errorf("version %d: checksum enabled %d times", version, f.client.checksumSets)
		}
	}
}

func TestShortMessagesUnderrun(t *testing.T) {
	primaryEnd := 2 + 2 + signatureSize + rsaBlockSize

	for _, cut := range []int{0, 1, 3, 10, primaryEnd - 1, primaryEnd, primaryEnd + 1, primaryEnd + 127} {
		f := newFixture(t)
		// blocks are decrypted in place, so every cut needs its own message
		full := buildHello(t, defaultHello())
		err := HandleLogin(f.client, full[:cut], f.deps)
		switch {
		case cut < primaryEnd && !IsKind(err, KindBufferUnderrun) && !IsKind(err, KindCryptoFailure):
			t.Fatalf("cut %d: err = %v", cut, err)
		case cut >= primaryEnd && !IsKind(err, KindBufferUnderrun):
			t.Fatalf("cut %d: err = %v, want BufferUnderrun", cut, err)
		}
		if len(f.client.sent) != 0 {
			t.Fatalf("cut %d: malformed message answered", cut)
		}
		if f.client.disconnects != 1 || len(f.sched.tasks) != 0 {
			t.Fatalf("cut %d: disconnects=%d tasks=%d", cut, f.client.disconnects, len(f.sched.tasks))
		}
	}
}

func TestTrailingBlockOffset(t *testing.T) {
	msg := make([]byte, 300)
	r := packet.NewReader(msg)
	r.Skip(40)

	off, err := trailingBlockOffset(r, 149)
	if err != nil || off != 300-128-40 {
		t.Fatalf("offset = %d, %v", off, err)
	}
	if _, err := trailingBlockOffset(r, 173); err == nil {
		t.Fatalf("block overlapping the primary block accepted")
	}
	r.Skip(200)
	if _, err := trailingBlockOffset(r, 149); err == nil {
		t.Fatalf("cursor past the trailing block accepted")
	}
}

func TestVersionOutOfRange(t *testing.T) {
	for _, version := range []uint16{1000, 1075, 1076, 1096, 1101} {
		f := newFixture(t)
		h := defaultHello()
		h.version = version

		err := HandleLogin(f.client, buildHello(t, h), f.deps)
		if !IsKind(err, KindProtocolOutOfRange) {
			t.Fatalf("version %d: err = %v", version, err)
		}
		op, msg := readDisconnect(t, f.client.sent[0])
		if want := disconnectOpcode(version); op != want {
			t.Fatalf("version %d: opcode = 0x%02X, want 0x%02X", version, op, want)
		}
		if !strings.Contains(msg, "10.97") {
			t.Fatalf("message = %q", msg)
		}
		if f.client.key == nil {
			t.Fatalf("range check ran before key install")
		}
	}
}

func TestDisconnectOpcodeThreshold(t *testing.T) {
	for version, want := range map[uint16]byte{761: 0x0A, 1075: 0x0A, 1076: 0x0B, 1100: 0x0B} {
		if got := disconnectOpcode(version); got != want {
			t.Errorf("disconnectOpcode(%d) = 0x%02X, want 0x%02X", version, got, want)
		}
	}
}

func TestServerStateGates(t *testing.T) {
	for _, tc := range []struct {
		state world.GameState
		kind  Kind
		msg   string
	}{
		{world.GameStartup, KindServerStarting, "Gameworld is starting up. Please wait."},
		{world.GameMaintain, KindServerMaintenance, "Gameworld is under maintenance.\nPlease re-connect in a while."},
	} {
		f := newFixture(t)
		f.world.SetGameState(tc.state)

		err := HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
		if !IsKind(err, tc.kind) {
			t.Fatalf("%s: err = %v", tc.state, err)
		}
		if _, msg := readDisconnect(t, f.client.sent[0]); msg != tc.msg {
			t.Fatalf("%s: message = %q", tc.state, msg)
		}
		if len(f.sched.tasks) != 0 {
			t.Fatalf("%s: task scheduled", tc.state)
		}
	}
}

func TestShutdownIsSilent(t *testing.T) {
	f := newFixture(t)
	f.world.SetGameState(world.GameShutdown)
	f.deps.RSA = panicRSA{}

	err := HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
	if !IsKind(err, KindServerShutdown) {
		t.Fatalf("err = %v", err)
	}
	if len(f.client.sent) != 0 || f.client.checksum || f.client.disconnects != 1 {
		t.Fatalf("shutdown touched the connection: sent=%d checksum=%v", len(f.client.sent), f.client.checksum)
	}
}

func TestBannedIPWithoutReason(t *testing.T) {
	f := newFixture(t)
	f.bans.byIP[f.client.ip] = &persist.BanInfo{
		IP:        f.client.ip,
		BannedBy:  "GM Zeus",
		ExpiresAt: time.Date(2031, time.March, 4, 12, 0, 0, 0, time.UTC),
	}

	err := HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
	if !IsKind(err, KindIPBanned) {
		t.Fatalf("err = %v", err)
	}
	_, msg := readDisconnect(t, f.client.sent[0])
	want := "Your IP has been banned until 04 Mar 2031 by GM Zeus.\n\nReason specified:\n(none)"
	if msg != want {
		t.Fatalf("message = %q\nwant %q", msg, want)
	}
}

func TestPermanentBanMessage(t *testing.T) {
	msg := banMessage(&persist.BanInfo{BannedBy: "GM", Reason: "botting"})
	if msg != "Your IP has been permanently banned by GM.\n\nReason specified:\nbotting" {
		t.Fatalf("message = %q", msg)
	}
}

func TestBanLookupFailureClosesSilently(t *testing.T) {
	f := newFixture(t)
	f.bans.err = errStoreDown

	err := HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
	if !IsKind(err, KindInternal) {
		t.Fatalf("err = %v", err)
	}
	if len(f.client.sent) != 0 || len(f.sched.tasks) != 0 {
		t.Fatalf("store failure let the handshake continue")
	}
}

func TestInvalidTokenBlock(t *testing.T) {
	f := newFixture(t)
	h := defaultHello()
	h.badToken = true

	err := HandleLogin(f.client, buildHello(t, h), f.deps)
	if !IsKind(err, KindInvalidAuthToken) {
		t.Fatalf("err = %v", err)
	}
	if _, msg := readDisconnect(t, f.client.sent[0]); msg != "Invalid authentification token." {
		t.Fatalf("message = %q", msg)
	}
}

func TestPrimaryBlockOutOfRange(t *testing.T) {
	f := newFixture(t)
	msg := buildHello(t, defaultHello())
	copy(msg[2+2+signatureSize:], bytes.Repeat([]byte{0xff}, rsaBlockSize))

	err := HandleLogin(f.client, msg, f.deps)
	if !IsKind(err, KindCryptoFailure) {
		t.Fatalf("err = %v", err)
	}
	if len(f.client.sent) != 0 || f.client.key != nil {
		t.Fatalf("crypto failure answered or installed a key")
	}
}

func TestEmptyAccountWithoutLiveCasting(t *testing.T) {
	f := newFixture(t)
	h := defaultHello()
	h.account = ""

	err := HandleLogin(f.client, buildHello(t, h), f.deps)
	if !IsKind(err, KindInvalidAccountName) {
		t.Fatalf("err = %v", err)
	}
	if len(f.sched.tasks) != 0 {
		t.Fatalf("dispatcher invoked")
	}
	if _, msg := readDisconnect(t, f.client.sent[0]); msg != "Invalid account name." {
		t.Fatalf("message = %q", msg)
	}
}

func TestEmptyAccountWithLiveCasting(t *testing.T) {
	f := newFixture(t)
	f.cfg.Login.EnableLiveCasting = true
	h := defaultHello()
	h.account = ""
	h.password = "spectator"

	if err := HandleLogin(f.client, buildHello(t, h), f.deps); err != nil {
		t.Fatalf("HandleLogin: %v", err)
	}
	if len(f.sched.tasks) != 1 {
		t.Fatalf("scheduled %d tasks", len(f.sched.tasks))
	}
	task, ok := f.sched.tasks[0].(*CastListTask)
	if !ok || task.Password != "spectator" || task.Version != 1100 {
		t.Fatalf("task = %#v", f.sched.tasks[0])
	}
}

func TestDispatcherFailure(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errStoreDown

	err := HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
	if !IsKind(err, KindInternal) {
		t.Fatalf("err = %v", err)
	}
	if f.client.disconnects != 1 {
		t.Fatalf("connection left open")
	}
}

func TestRejectionEmitsEvent(t *testing.T) {
	f := newFixture(t)
	f.world.SetGameState(world.GameMaintain)

	var reasons []string
	subscribeRejected(f, &reasons)

	HandleLogin(f.client, buildHello(t, defaultHello()), f.deps)
	f.events.SwapBuffers()
	f.events.DispatchAll()

	if len(reasons) != 1 || reasons[0] != "ServerMaintenance" {
		t.Fatalf("reasons = %v", reasons)
	}
}
