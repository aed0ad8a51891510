package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"FlowWallet-Chain/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	keys  map[[sha256.Size]byte]*Subject
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。api_key 模式下至少需要一个密钥。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
		if len(cfg.Keys) > 0 {
			mode = ModeAPIKey
		}
	}
	svc := &Service{
		mode:  mode,
		keys:  make(map[[sha256.Size]byte]*Subject, len(cfg.Keys)),
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		for i, key := range cfg.Keys {
			secret := strings.TrimSpace(key.Key)
			if secret == "" {
				return nil, fmt.Errorf("api key #%d (%s) is empty", i, key.Name)
			}
			digest := sha256.Sum256([]byte(secret))
			if _, exists := svc.keys[digest]; exists {
				return nil, fmt.Errorf("api key %q is configured twice", key.Name)
			}
			subject := &Subject{
				Name:        key.Name,
				Permissions: append([]string(nil), key.Permissions...),
				Disabled:    key.Disabled,
			}
			subject.normalise()
			svc.keys[digest] = subject
		}
		if len(svc.keys) == 0 {
			return nil, errors.New("api_key mode requires at least one key")
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, errors.New("authentication disabled")
	}
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	subject, found := s.keys[sha256.Sum256([]byte(token))]
	if !found {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
