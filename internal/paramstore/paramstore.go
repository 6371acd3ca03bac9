package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

var (
	ErrNotInitialized = errors.New("paramstore: client not initialized")
	ErrNameRequired   = errors.New("paramstore: parameter name is required")
	ErrMissingValue   = errors.New("paramstore: parameter has no value")
)

// ssmAPI es el subconjunto de *ssm.Client que usa Store.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter lee un parametro por nombre. Lo consume la resolucion de secretos.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Store lee parametros de AWS SSM Parameter Store, descifrando SecureString.
type Store struct {
	api ssmAPI
}

func New(api ssmAPI) (*Store, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Store{api: api}, nil
}

// NewFromDefaultConfig arma un Store con la cadena de credenciales por defecto
// del SDK (env, perfil compartido, rol de la instancia).
func NewFromDefaultConfig(ctx context.Context) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("paramstore: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

func (s *Store) GetParameter(ctx context.Context, name string) (string, error) {
	if s == nil || s.api == nil {
		return "", ErrNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", ErrMissingValue
	}
	return *out.Parameter.Value, nil
}

// ResolveSecret devuelve plain si no esta vacio; si no, lee param desde g.
// Sin ninguno de los dos devuelve "" sin error: la falta de secreto se reporta
// por turno, no al arrancar.
func ResolveSecret(ctx context.Context, g Getter, plain, param string) (string, error) {
	if v := strings.TrimSpace(plain); v != "" {
		return v, nil
	}
	if strings.TrimSpace(param) == "" || g == nil {
		return "", nil
	}
	v, err := g.GetParameter(ctx, param)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}
