package notification

import (
	"sync"
	"time"
)

const DefaultCapacity = 20

// Notification is one run message shown on the upload page.
type Notification struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	OK      bool      `json:"ok"`
}

// NotificationService keeps the most recent notifications in memory, oldest dropped first.
type NotificationService struct {
	mu            sync.Mutex
	notifications []Notification
	capacity      int
}

func NewNotificationService(capacity int) *NotificationService {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NotificationService{
		notifications: make([]Notification, 0, capacity),
		capacity:      capacity,
	}
}

func (ns *NotificationService) AddNotification(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = append(ns.notifications, n)
	if over := len(ns.notifications) - ns.capacity; over > 0 {
		ns.notifications = append(ns.notifications[:0:0], ns.notifications[over:]...)
	}
}

// GetNotifications returns a copy, newest first.
func (ns *NotificationService) GetNotifications() []Notification {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]Notification, len(ns.notifications))
	for i, n := range ns.notifications {
		out[len(out)-1-i] = n
	}
	return out
}

func (ns *NotificationService) ClearNotifications() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = ns.notifications[:0]
}
