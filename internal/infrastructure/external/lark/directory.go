package lark

import (
	"context"
	"fmt"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/port"
)

// Directory implements port.IdentityProvider with the Lark contact API.
// Names are cached for the lifetime of the process.
type Directory struct {
	client *lark.Client
	logger *zap.Logger
	names  sync.Map
}

// NewDirectory creates a new Lark user directory
func NewDirectory(client *lark.Client, logger *zap.Logger) *Directory {
	return &Directory{client: client, logger: logger}
}

// DisplayName returns the user's name for an open_id
func (d *Directory) DisplayName(ctx context.Context, openID string) (string, error) {
	if openID == "" {
		return "", fmt.Errorf("openID cannot be empty")
	}
	if name, ok := d.names.Load(openID); ok {
		return name.(string), nil
	}

	req := larkcontact.NewGetUserReqBuilder().
		UserId(openID).
		UserIdType("open_id").
		Build()

	resp, err := d.client.Contact.User.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if !resp.Success() {
		d.logger.Error("API returned failure",
			zap.String("open_id", openID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	name := openID
	if resp.Data != nil && resp.Data.User != nil && resp.Data.User.Name != nil {
		name = *resp.Data.User.Name
	}
	d.names.Store(openID, name)
	return name, nil
}

var _ port.IdentityProvider = (*Directory)(nil)
