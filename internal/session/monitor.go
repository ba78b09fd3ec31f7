package session

import (
	"context"
	"time"
)

// The liveness monitor runs while a session is active. Each tick it checks
// the stored token: a locally expired token ends the session, a
// near-expiry token is renewed in the background, and a healthy token is
// occasionally revalidated against the server to catch revocation the
// client can't see.

func (m *Manager) startMonitorLocked() {
	if m.monitorStop != nil {
		return
	}

	stop := make(chan struct{})
	m.monitorStop = stop

	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go m.monitorLoop(ctx, stop)
}

func (m *Manager) stopMonitorLocked() {
	if m.monitorStop != nil {
		close(m.monitorStop)
		m.monitorStop = nil
	}
}

func (m *Manager) monitorLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.checkLiveness(ctx)
		}
	}
}

// CheckNow runs one liveness check outside the regular schedule. Hosts call
// it on wake-from-suspend, network-online and similar events, when the
// token may have silently expired since the last tick.
func (m *Manager) CheckNow() {
	ctx := context.Background()
	m.mu.Lock()
	if m.runCtx != nil {
		ctx = m.runCtx
	}
	m.mu.Unlock()

	m.checkLiveness(ctx)
}

func (m *Manager) checkLiveness(ctx context.Context) {
	tok, ok := m.store.Token()
	if !ok || tok == "" {
		return
	}

	switch {
	case m.codec.IsExpired(tok):
		m.logger.Warn("Access token expired between checks, ending session")
		m.expireSession()

	case m.codec.NeedsRefresh(tok):
		// Fire and forget; the refresher logs its own failures and the
		// expiration alerts are the backstop
		go func() {
			rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			_, _ = m.refresher.Refresh(rctx)
		}()

	case m.randFloat() < m.revalidateProbability:
		go func() {
			rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if _, err := m.Profile(rctx); err != nil {
				m.logger.Debug("Opportunistic revalidation failed", "error", err.Error())
			}
		}()
	}
}
