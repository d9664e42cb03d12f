package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"collabrelay/internal/auth"
	"collabrelay/internal/channel"
	"collabrelay/internal/client"
	"collabrelay/pkg/types"
)

func newBus() *channel.Router {
	return channel.NewRouter(auth.AllowAllSends{}, zap.NewNop().Sugar())
}

func attachPeer(t *testing.T, bus *channel.Router, user string, channels ...string) *client.Peer {
	t.Helper()
	peer, err := client.Attach(context.Background(), bus, user, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Attach(%s): %v", user, err)
	}
	for _, ch := range channels {
		if err := peer.Join(context.Background(), ch); err != nil {
			t.Fatalf("Join(%s, %s): %v", user, ch, err)
		}
	}
	return peer
}

// respondWith registers a raw discovery responder with a fixed status.
func respondWith(t *testing.T, peer *client.Peer, service, status string) {
	t.Helper()
	peer.Subscribe(types.MessageTypeDiscoverServiceRequest, func(_ string, data types.Payload) {
		if data.GetString(types.FieldService) != service {
			return
		}
		err := peer.Session().Response(types.MessageTypeDiscoverServiceResponse, types.Payload{
			types.FieldCallbackID:      data.CallbackID(),
			types.FieldRequestSenderID: data.GetString(types.FieldRequestSenderID),
			types.FieldUsername:        data.Username(),
			types.FieldService:         service,
			types.FieldStatus:          status,
		})
		if err != nil {
			t.Errorf("discovery response: %v", err)
		}
	})
}

func TestDiscoverReturnsReadyWithoutWaiting(t *testing.T) {
	bus := newBus()
	providerPeer := attachPeer(t, bus, "alice", "alice")
	provider := NewProvider(providerPeer, "jdt", zap.NewNop().Sugar())
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("provider start: %v", err)
	}

	consumer := attachPeer(t, bus, "alice", "alice")
	clk := clock.NewMock()
	d := NewDiscoverer(consumer, clk, zap.NewNop().Sugar())

	// The mock clock never advances: a ready reply must end the window
	// on its own.
	info, err := d.Discover(context.Background(), "jdt", "alice")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if info.Status != types.ServiceStatusReady {
		t.Errorf("status = %s, want ready", info.Status)
	}
	if info.SocketID != providerPeer.ID() {
		t.Errorf("socket id = %s, want provider %s", info.SocketID, providerPeer.ID())
	}
}

func TestDiscoverKeepsBestRankedReply(t *testing.T) {
	bus := newBus()
	respondWith(t, attachPeer(t, bus, types.SuperUser, types.SuperUser), "jdt", types.ServiceStatusUnavailable)
	respondWith(t, attachPeer(t, bus, types.SuperUser, types.SuperUser), "jdt", types.ServiceStatusStarting)
	respondWith(t, attachPeer(t, bus, types.SuperUser, types.SuperUser), "jdt", types.ServiceStatusAvailable)

	consumer := attachPeer(t, bus, "alice", "alice")
	clk := clock.NewMock()
	d := NewDiscoverer(consumer, clk, zap.NewNop().Sugar())

	done := make(chan struct{})
	var info *ProviderInfo
	var err error
	go func() {
		info, err = d.Discover(context.Background(), "jdt", "alice")
		close(done)
	}()

	// Let the collector drain the replies and block on the window timer,
	// then run the window out.
	time.Sleep(20 * time.Millisecond)
	clk.Add(DefaultWindow)
	<-done

	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if info.Status != types.ServiceStatusStarting {
		t.Errorf("best status = %s, want starting", info.Status)
	}
}

func TestDiscoverTimeout(t *testing.T) {
	bus := newBus()
	consumer := attachPeer(t, bus, "alice", "alice")
	clk := clock.NewMock()
	d := NewDiscoverer(consumer, clk, zap.NewNop().Sugar())

	done := make(chan struct{})
	var err error
	go func() {
		_, err = d.Discover(context.Background(), "jdt", "alice")
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	clk.Add(DefaultWindow)
	<-done

	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Errorf("err = %v, want ErrDiscoveryTimeout", err)
	}
}

func TestClaimFirstRequesterWins(t *testing.T) {
	bus := newBus()
	providerPeer := attachPeer(t, bus, types.SuperUser, types.SuperUser)
	provider := NewProvider(providerPeer, "jdt", zap.NewNop().Sugar())
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("provider start: %v", err)
	}

	clk := clock.NewMock()
	first := NewDiscoverer(attachPeer(t, bus, "alice", "alice"), clk, zap.NewNop().Sugar())
	second := NewDiscoverer(attachPeer(t, bus, "bob", "bob"), clk, zap.NewNop().Sugar())

	info := &ProviderInfo{Service: "jdt", Status: types.ServiceStatusAvailable, SocketID: providerPeer.ID()}

	if err := first.Claim(context.Background(), "alice", info); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := second.Claim(context.Background(), "bob", info); !errors.Is(err, ErrClaimConflict) {
		t.Errorf("second claim = %v, want ErrClaimConflict", err)
	}
}

func TestClaimedProviderAnswersItsUserReady(t *testing.T) {
	bus := newBus()
	providerPeer := attachPeer(t, bus, types.SuperUser, types.SuperUser)
	provider := NewProvider(providerPeer, "jdt", zap.NewNop().Sugar())
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("provider start: %v", err)
	}

	clk := clock.NewMock()
	alice := NewDiscoverer(attachPeer(t, bus, "alice", "alice"), clk, zap.NewNop().Sugar())
	info := &ProviderInfo{Service: "jdt", Status: types.ServiceStatusAvailable, SocketID: providerPeer.ID()}
	if err := alice.Claim(context.Background(), "alice", info); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Re-discovery by the claiming user now sees a dedicated instance.
	found, err := alice.Discover(context.Background(), "jdt", "alice")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found.Status != types.ServiceStatusReady {
		t.Errorf("status = %s, want ready", found.Status)
	}

	// Everyone else no longer sees it at all.
	bob := NewDiscoverer(attachPeer(t, bus, "bob", "bob"), clk, zap.NewNop().Sugar())
	done := make(chan struct{})
	go func() {
		_, err = bob.Discover(context.Background(), "jdt", "bob")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	clk.Add(DefaultWindow)
	<-done
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Errorf("foreign discovery = %v, want ErrDiscoveryTimeout", err)
	}
}

func TestShutdownServiceDisposesProvider(t *testing.T) {
	bus := newBus()
	providerPeer := attachPeer(t, bus, "alice", "alice")
	provider := NewProvider(providerPeer, "jdt", zap.NewNop().Sugar())
	if err := provider.Start(context.Background()); err != nil {
		t.Fatalf("provider start: %v", err)
	}

	observer := attachPeer(t, bus, types.SuperUser, types.SuperUser)
	statuses := make(chan string, 4)
	observer.Subscribe(types.MessageTypeServiceStatusChange, func(_ string, data types.Payload) {
		statuses <- data.GetString(types.FieldStatus)
	})

	owner := attachPeer(t, bus, "alice", "alice")
	err := owner.Session().DirectRequest(types.MessageTypeShutdownService, types.Payload{
		types.FieldUsername: "alice",
		types.FieldService:  "jdt",
		types.FieldSocketID: providerPeer.ID(),
	})
	if err != nil {
		t.Fatalf("shutdownService: %v", err)
	}

	select {
	case status := <-statuses:
		if status != types.ServiceStatusUnavailable {
			t.Errorf("announced %s, want unavailable", status)
		}
	default:
		t.Fatal("no shutdown status announced")
	}

	// A disposed provider no longer answers discovery.
	clk := clock.NewMock()
	d := NewDiscoverer(owner, clk, zap.NewNop().Sugar())
	done := make(chan struct{})
	go func() {
		_, err = d.Discover(context.Background(), "jdt", "alice")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	clk.Add(DefaultWindow)
	<-done
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Errorf("discovery after shutdown = %v, want ErrDiscoveryTimeout", err)
	}
}

func TestConfiguredWindowBoundsDiscovery(t *testing.T) {
	bus := newBus()
	clk := clock.NewMock()
	d := NewDiscoverer(attachPeer(t, bus, "alice", "alice"), clk, zap.NewNop().Sugar())
	d.SetWindow(time.Second)

	var err error
	done := make(chan struct{})
	go func() {
		_, err = d.Discover(context.Background(), "jdt", "alice")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	clk.Add(time.Second)
	<-done
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Errorf("discovery = %v, want ErrDiscoveryTimeout after the shortened window", err)
	}
}

func TestMonitorInvokesOnLostAfterCoolDown(t *testing.T) {
	bus := newBus()
	clk := clock.NewMock()
	d := NewDiscoverer(attachPeer(t, bus, "alice", "alice"), clk, zap.NewNop().Sugar())
	d.SetCoolDown(10 * time.Second)

	lost := make(chan struct{})
	sub := d.Monitor(context.Background(), "jdt", "alice", func() { close(lost) })
	defer sub.Unsubscribe()

	announcer := attachPeer(t, bus, "alice", "alice")
	announce := func(status string) {
		t.Helper()
		err := announcer.Session().Broadcast(types.MessageTypeServiceStatusChange, types.Payload{
			types.FieldService:  "jdt",
			types.FieldUsername: "alice",
			types.FieldStatus:   status,
		})
		if err != nil {
			t.Fatalf("broadcast %s: %v", status, err)
		}
	}

	// Transitions short of unavailable must not arm the retry.
	announce(types.ServiceStatusStarting)
	time.Sleep(20 * time.Millisecond)
	clk.Add(time.Minute)
	select {
	case <-lost:
		t.Fatal("onLost fired for a non-terminal transition")
	case <-time.After(20 * time.Millisecond):
	}

	announce(types.ServiceStatusUnavailable)
	time.Sleep(20 * time.Millisecond)
	clk.Add(5 * time.Second)
	select {
	case <-lost:
		t.Fatal("onLost fired before the cool-down elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Add(5 * time.Second)
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("onLost not invoked after the cool-down")
	}
}
