// Package secrets declares the argument schemas of the secrets backends.
// Secret values are fetched by the deployment environment; porter only
// validates the backend declaration and the secrets pipelines reference.
package secrets

import (
	"fmt"
	"net/url"

	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// AWSSecretsManagerArgs are the args of secrets_backend.aws_sm.
type AWSSecretsManagerArgs struct {
	Region string `yaml:"region" required:"true"`
	Prefix string `yaml:"prefix"`
}

// AWSParameterStoreArgs are the args of secrets_backend.aws_ssm.
type AWSParameterStoreArgs struct {
	Region         string `yaml:"region" required:"true"`
	PathPrefix     string `yaml:"path_prefix"`
	WithDecryption bool   `yaml:"with_decryption" default:"true"`
}

// GCPSecretManagerArgs are the args of secrets_backend.gcp_sm.
type GCPSecretManagerArgs struct {
	Project         string `yaml:"project" required:"true"`
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureKeyVaultArgs are the args of secrets_backend.azure_kv.
type AzureKeyVaultArgs struct {
	VaultURL string `yaml:"vault_url" required:"true"`
	TenantID string `yaml:"tenant_id"`
}

func (a *AzureKeyVaultArgs) Validate() error {
	return checkURL("vault_url", a.VaultURL)
}

// VaultArgs are the args of secrets_backend.hashicorp_vault.
type VaultArgs struct {
	Address   string `yaml:"address" required:"true"`
	Mount     string `yaml:"mount" default:"secret"`
	Namespace string `yaml:"namespace"`
	Role      string `yaml:"role"`
}

func (a *VaultArgs) Validate() error {
	return checkURL("address", a.Address)
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}

// Schemas maps each secret source to its args schema.
var Schemas = map[models.SecretSource]any{
	models.SecretSourceAWSSecretsManager: AWSSecretsManagerArgs{},
	models.SecretSourceAWSParameterStore: AWSParameterStoreArgs{},
	models.SecretSourceGCPSecretManager:  GCPSecretManagerArgs{},
	models.SecretSourceAzureKeyVault:     AzureKeyVaultArgs{},
	models.SecretSourceHashicorpVault:    VaultArgs{},
}

// RegisterSchemas registers every backend schema in reg.
func RegisterSchemas(reg *schema.Registry) error {
	for source, args := range Schemas {
		if err := reg.Register(schema.VariantOf(schema.KindSecretsBackend, string(source)), args); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	if err := RegisterSchemas(schema.Default()); err != nil {
		panic(err)
	}
}
