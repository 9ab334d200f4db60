// Package notify delivers Trellis events to an outbound sink (Slack,
// Discord, or the log). Delivery is fire-and-forget from the engines'
// perspective: failures are logged by the caller, never propagated.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
)

// Notification is one outbound message: who, which template, and the
// token context the template renders with.
type Notification struct {
	Recipients []string          // user ids
	Template   string            // e.g. "status_changed"
	Context    map[string]string // template token values
}

// Sink is the external notification collaborator.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Directory resolves user ids to display names and emails for message
// rendering and recipient resolution.
type Directory interface {
	Resolve(userID string) (models.User, bool)
}

// DBDirectory looks users up in the users table.
type DBDirectory struct {
	DB *gorm.DB
}

// Resolve implements Directory.
func (d DBDirectory) Resolve(userID string) (models.User, bool) {
	var u models.User
	if err := d.DB.Where("id = ?", userID).First(&u).Error; err != nil {
		return models.User{}, false
	}
	return u, true
}

// StaticDirectory resolves from a fixed map; used in tests and small
// single-tenant deployments configured from YAML.
type StaticDirectory map[string]models.User

// Resolve implements Directory.
func (d StaticDirectory) Resolve(userID string) (models.User, bool) {
	u, ok := d[userID]
	return u, ok
}

// FormatMessage renders a notification as a single chat-ready line.
// Context keys are emitted in sorted order so output is deterministic.
func FormatMessage(n Notification, dir Directory) string {
	var names []string
	for _, id := range n.Recipients {
		name := id
		if dir != nil {
			if u, ok := dir.Resolve(id); ok && u.Name != "" {
				name = u.Name
			}
		}
		names = append(names, name)
	}

	keys := make([]string, 0, len(n.Context))
	for k := range n.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", n.Template)
	if len(names) > 0 {
		fmt.Fprintf(&b, " to %s", strings.Join(names, ", "))
	}
	for _, k := range keys {
		fmt.Fprintf(&b, " | %s: %s", k, n.Context[k])
	}
	return b.String()
}

// LogSink writes notifications to the structured log instead of a chat
// platform. The default sink when no platform is configured.
type LogSink struct {
	Dir Directory
}

// Send implements Sink.
func (s LogSink) Send(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"template":   n.Template,
		"recipients": strings.Join(n.Recipients, ","),
	}).Info(FormatMessage(n, s.Dir))
	return nil
}
