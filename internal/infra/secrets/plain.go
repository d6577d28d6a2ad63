package secrets

import (
	"context"

	"notifyq/internal/domain"
	"notifyq/internal/ports"
)

var _ ports.SecretResolver = (*Plain)(nil)

// Plain treats the credential reference as the credential itself. Real
// deployments plug in a vault-backed resolver; nothing in the delivery core
// assumes any particular scheme.
type Plain struct{}

func (Plain) Resolve(_ context.Context, ref domain.CredentialRef) (string, error) {
	return string(ref), nil
}
