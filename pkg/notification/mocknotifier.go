package notification

import (
	"context"
	"sync"
)

// SentNotice is one notice captured by MockNotifier.
type SentNotice struct {
	Type    NoticeType
	Data    NotificationData
	Message Message
}

// MockNotifier records rendered notices instead of sending them. Set Err to simulate
// a transport failure.
type MockNotifier struct {
	mu   sync.Mutex
	sent []SentNotice
	Err  error
}

func (m *MockNotifier) Send(_ context.Context, noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	msg, err := Render(notification, template)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentNotice{Type: noticeType, Data: notification, Message: msg})
	return nil
}

// Sent returns a copy of every recorded notice.
func (m *MockNotifier) Sent() []SentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotice, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent notice of type t sent to address.
func (m *MockNotifier) Last(t NoticeType, address string) (SentNotice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Type == t && m.sent[i].Data.To == address {
			return m.sent[i], true
		}
	}
	return SentNotice{}, false
}

// Reset forgets recorded notices.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
