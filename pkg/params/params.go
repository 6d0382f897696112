// Package params reads configuration values from AWS Systems Manager Parameter Store.
package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

var ErrNotFound = errors.New("parameter not found")

// Resolver returns the value stored under a parameter name.
type Resolver interface {
	Get(ctx context.Context, name string, decrypt bool) (string, error)
}

type getParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SSM struct {
	api getParameterAPI
}

func NewSSM(client *ssm.Client) *SSM {
	return &SSM{api: client}
}

func (s *SSM) Get(ctx context.Context, name string, decrypt bool) (string, error) {
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("ssm %s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("ssm %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("ssm %s: %w", name, ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Static resolves from a fixed map; used for local runs and tests.
type Static map[string]string

func (s Static) Get(_ context.Context, name string, _ bool) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("static %s: %w", name, ErrNotFound)
	}
	return v, nil
}
