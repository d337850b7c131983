package chirp

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return &Manager{
		offered:  make(map[uint16]ServiceID),
		callback: make(map[ServiceID]Callback),
		tasks:    make(chan task, 16),
	}
}

func TestDiscoverOfferNewService(t *testing.T) {
	m := newTestManager()
	var mu sync.Mutex
	var seen []DiscoveredService
	m.callback[ServiceControl] = func(d DiscoveredService) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	}

	host := uuid.New()
	m.discoverOffer(&Message{Type: TypeOffer, HostUUID: host, Service: ServiceControl, Port: 100, FromAddress: "1.2.3.4"})

	drainTasks(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.True(t, seen[0].Alive)
	require.Equal(t, uint16(100), seen[0].Port)
}

func TestDiscoverOfferPortChangeMarksOldDead(t *testing.T) {
	m := newTestManager()
	var mu sync.Mutex
	var seen []DiscoveredService
	m.callback[ServiceControl] = func(d DiscoveredService) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	}

	host := uuid.New()
	m.discoverOffer(&Message{Type: TypeOffer, HostUUID: host, Service: ServiceControl, Port: 100})
	drainTasks(t, m)
	m.discoverOffer(&Message{Type: TypeOffer, HostUUID: host, Service: ServiceControl, Port: 200})
	drainTasks(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	require.True(t, seen[0].Alive)
	require.False(t, seen[1].Alive)
	require.Equal(t, uint16(100), seen[1].Port)
	require.True(t, seen[2].Alive)
	require.Equal(t, uint16(200), seen[2].Port)

	require.Len(t, m.Discovered(ServiceControl), 1)
	require.Equal(t, uint16(200), m.Discovered(ServiceControl)[0].Port)
}

func TestDiscoverDepartRemovesEntry(t *testing.T) {
	m := newTestManager()
	var mu sync.Mutex
	var seen []DiscoveredService
	m.callback[ServiceControl] = func(d DiscoveredService) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	}

	host := uuid.New()
	m.discoverOffer(&Message{Type: TypeOffer, HostUUID: host, Service: ServiceControl, Port: 100})
	drainTasks(t, m)
	m.discoverDepart(&Message{Type: TypeDepart, HostUUID: host, Service: ServiceControl, Port: 100})
	drainTasks(t, m)

	require.Empty(t, m.Discovered(ServiceControl))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.False(t, seen[1].Alive)
}

func TestRegisterOfferReplacesSamePort(t *testing.T) {
	m := newTestManager()
	m.RegisterOffer(ServiceControl, 100)
	m.RegisterOffer(ServiceHeartbeat, 100)
	require.Equal(t, ServiceHeartbeat, m.offered[100])
}

func TestRegisterRequestEnqueuesKnownServices(t *testing.T) {
	m := newTestManager()
	host := uuid.New()
	m.discover = append(m.discover, DiscoveredService{HostUUID: host, Service: ServiceControl, Port: 42, Alive: true})

	var got DiscoveredService
	done := make(chan struct{})
	m.RegisterRequest(ServiceControl, func(d DiscoveredService) {
		got = d
		close(done)
	})

	select {
	case t := <-m.tasks:
		t.cb(t.svc)
	case <-time.After(time.Second):
		t.Fatal("expected a task to be enqueued")
	}

	<-done
	require.Equal(t, uint16(42), got.Port)
}

func drainTasks(t *testing.T, m *Manager) {
	t.Helper()
	for {
		select {
		case tk := <-m.tasks:
			tk.cb(tk.svc)
		default:
			return
		}
	}
}
