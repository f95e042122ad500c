package azureblob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/retry"
)

// ensureContainer checks access using a minimal list (SAS sr=c cannot create containers).
func (p *Provider) ensureContainer(ctx context.Context) error {
	start := time.Now()
	attempt := 0
	ensureOnce := func(ctx context.Context) error {
		attempt++
		log.Debug().Str("action", "azure_container_check").Str("container", p.container).
			Int("attempt", attempt).Msg("starting attempt")

		pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
			MaxResults: to.Ptr(int32(1)),
		})
		if !pager.More() {
			return nil
		}
		_, err := pager.NextPage(ctx)
		if err == nil {
			return nil
		}
		var re *azcore.ResponseError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case string(bloberror.ContainerNotFound):
				return fault.Remote("container check", re.StatusCode,
					fmt.Errorf("container %q not found: create it first (container SAS cannot create containers)", p.container))
			case string(bloberror.AuthorizationFailure),
				string(bloberror.AuthorizationPermissionMismatch),
				string(bloberror.AuthenticationFailed):
				return fault.Authentication("container check",
					fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwdl: %w", p.container, err))
			}
		}
		log.Debug().Err(err).Str("action", "azure_container_check").Str("container", p.container).
			Int("attempt", attempt).Msg("attempt failed")
		return err
	}
	if err := retry.Do(ctx, p.ro, isAzRetryable, ensureOnce); err != nil {
		return remoteErr("container check", err)
	}
	log.Debug().Str("action", "azure_container_check").Str("container", p.container).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("container access OK")
	return nil
}

// isAzRetryable: retry rules for Azure (timeout, 5xx, 429, 408, ServerBusy).
func isAzRetryable(err error) bool {
	if retry.IsNetTimeout(err) {
		return true
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		if retry.HTTPStatus(re.StatusCode) {
			return true
		}
		if re.ErrorCode == string(bloberror.ServerBusy) {
			return true
		}
	}
	return false
}

// remoteErr classifies a failed call; already classified errors pass through.
func remoteErr(op string, err error) error {
	if fault.KindOf(err) != 0 {
		return err
	}
	code := 0
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		code = re.StatusCode
	}
	return fault.Remote(op, code, err)
}

// metaValue looks a metadata key up ignoring case; the service echoes
// header-canonicalized keys.
func metaValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}
