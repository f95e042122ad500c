package azureblob

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/fault"
	"github.com/Chapsvision-dev/spare/internal/provider"
)

// endpointFor returns the service URL, always with a trailing slash.
func endpointFor(a config.AzureConfig) string {
	endpoint := strings.TrimSpace(a.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", a.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// Build client from config.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newClientFromConfig(a config.AzureConfig) (*azblob.Client, string, error) {
	endpoint := endpointFor(a)

	// 1) SAS
	if sasRaw := strings.TrimSpace(a.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		cl, err := azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
		return cl, "sas", err
	}

	// 2) Service Principal
	if a.ClientID != "" && a.ClientSecret != "" && a.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(a.TenantID, a.ClientID, a.ClientSecret, nil)
		if err != nil {
			return nil, "", err
		}
		cl, err := azblob.NewClient(endpoint, cred, nil)
		return cl, "service_principal", err
	}

	// 3) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", err
	}
	cl, err := azblob.NewClient(endpoint, defCred, nil)
	return cl, "default_credential", err
}

func init() {
	provider.Register(config.ProviderAzureBlob, func(cfg config.Config) (provider.Destination, error) {
		if cfg.Profile.Azure.Account == "" || cfg.Profile.Azure.Container == "" {
			return nil, fault.Validationf("azure-blob: account and container are required")
		}
		return New(cfg), nil
	})
}
