package prefstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"notifyq/internal/domain"
	"notifyq/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.PreferenceStore = (*Redis)(nil)

// Redis is a hash-backed preference/template store. Both live in an external
// system in production; this reference implementation keeps the binaries
// runnable against a bare redis.
type Redis struct {
	Rdb *redis.Client
}

func New(rdb *redis.Client) *Redis {
	return &Redis{Rdb: rdb}
}

func prefKey(userID, tenantID, messageType string) string {
	return fmt.Sprintf("nq:prefs:%s:%s:%s", tenantID, userID, messageType)
}

func templateKey(messageType string) string {
	return "nq:template:" + messageType
}

func (s *Redis) GetPreferences(ctx context.Context, userID, tenantID, messageType string) (*domain.Preferences, error) {
	h, err := s.Rdb.HGetAll(ctx, prefKey(userID, tenantID, messageType)).Result()
	if err != nil || len(h) == 0 {
		return nil, err
	}

	p := &domain.Preferences{
		UserID:      userID,
		TenantID:    tenantID,
		MessageType: messageType,
	}
	p.Enabled, _ = strconv.ParseBool(h["enabled"])
	if ch := h["channel_ids"]; ch != "" {
		p.ChannelIDs = strings.Split(ch, ",")
	}
	return p, nil
}

func (s *Redis) GetTemplate(ctx context.Context, messageType string, _ []string) (*domain.Template, error) {
	h, err := s.Rdb.HGetAll(ctx, templateKey(messageType)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		// No template registered: pass the body field through untouched.
		return &domain.Template{MessageType: messageType, Subject: "{{subject}}", Body: "{{body}}"}, nil
	}
	return &domain.Template{
		MessageType: messageType,
		Subject:     h["subject"],
		Body:        h["body"],
	}, nil
}
