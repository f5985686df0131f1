package codex

import "sync"

// ClientState represents the lifecycle state of a Client.
type ClientState int

const (
	ClientStateDisconnected ClientState = iota
	ClientStateConnecting
	ClientStateIdle
	ClientStateTurnInFlight
	ClientStateClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateDisconnected:
		return "disconnected"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateIdle:
		return "idle"
	case ClientStateTurnInFlight:
		return "turn-in-flight"
	case ClientStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// clientStateManager manages thread-safe client state transitions.
type clientStateManager struct {
	mu    sync.RWMutex
	state ClientState
}

func newClientStateManager() *clientStateManager {
	return &clientStateManager{state: ClientStateDisconnected}
}

func (m *clientStateManager) Current() ClientState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetConnecting moves disconnected -> connecting. Connecting twice or while
// connected reports the precise sequencing error.
func (m *clientStateManager) SetConnecting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case ClientStateDisconnected:
		m.state = ClientStateConnecting
		return nil
	case ClientStateClosed:
		return ErrClientClosed
	default:
		return ErrAlreadyConnected
	}
}

// SetIdle moves connecting/turn-in-flight -> idle.
func (m *clientStateManager) SetIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ClientStateConnecting && m.state != ClientStateTurnInFlight {
		return ErrInvalidState
	}
	m.state = ClientStateIdle
	return nil
}

// SetTurnInFlight moves idle -> turn-in-flight. A second concurrent turn is
// the caller's sequencing error, not a queue.
func (m *clientStateManager) SetTurnInFlight() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case ClientStateIdle:
		m.state = ClientStateTurnInFlight
		return nil
	case ClientStateTurnInFlight:
		return ErrTurnInFlight
	case ClientStateDisconnected, ClientStateConnecting:
		return ErrNotConnected
	default:
		return ErrClientClosed
	}
}

// SetDisconnected unconditionally returns to disconnected. Disconnect must
// release resources regardless of the state it finds.
func (m *clientStateManager) SetDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ClientStateClosed {
		m.state = ClientStateDisconnected
	}
}

func (m *clientStateManager) SetClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ClientStateClosed
}

func (m *clientStateManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == ClientStateIdle || m.state == ClientStateTurnInFlight
}
