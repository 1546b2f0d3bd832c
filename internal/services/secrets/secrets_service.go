package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/shibstack/shibstack/internal/client"
)

// SecretsManagerAPI is the slice of the Secrets Manager API the service needs.
type SecretsManagerAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

type SecretsService struct {
	client SecretsManagerAPI
}

func NewSecretsService(region string) (*SecretsService, error) {
	client, err := client.NewSecretsManagerClient(region)
	if err != nil {
		return nil, err
	}
	return &SecretsService{client: client}, nil
}

func NewSecretsServiceWithClient(client SecretsManagerAPI) *SecretsService {
	return &SecretsService{client: client}
}

// ExpectedSecretNames lists the Secrets Manager entries an environment is
// supposed to have once its secrets stack has run.
func ExpectedSecretNames(environmentName string) []string {
	suffixes := []string{
		"ldap-settings",
		"signing-cert",
		"backchannel-cert",
		"encryption-cert",
		"sealer-key",
	}
	names := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		names = append(names, fmt.Sprintf("%s-%s", environmentName, s))
	}
	return names
}

// VerifyEnvironment checks that every expected secret of the environment
// exists, returning the missing names.
func (s *SecretsService) VerifyEnvironment(ctx context.Context, environmentName string) ([]string, error) {
	var missing []string

	for _, name := range ExpectedSecretNames(environmentName) {
		_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
