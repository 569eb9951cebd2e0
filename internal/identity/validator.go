// Package identity восстанавливает AgentIdentity из токена агента (RS256 JWT).
// Выпуск токенов в этот сервис не входит.
package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// AgentClaims: атрибуты агента, которые подписывает издатель токенов
type AgentClaims struct {
	AgentID      string   `json:"agent_id"`
	TrustLevel   string   `json:"trust_level"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	jwt.RegisteredClaims
}

// Validator проверяет подпись RS256 публичным ключом
type Validator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewValidator(pubKey *rsa.PublicKey) *Validator {
	return &Validator{
		publicKey: pubKey,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
	}
}

// VerifyToken принимает как голый токен, так и значение заголовка "Bearer <token>"
func (v *Validator) VerifyToken(tokenStr string) (*AgentClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := v.parser.ParseWithClaims(tokenStr, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	return claims, nil
}

// Identity: проверенный токен в виде AgentIdentity для медиатора.
// agent_id берется из одноименного claim, иначе из sub.
func (v *Validator) Identity(tokenStr string) (domain.AgentIdentity, error) {
	claims, err := v.VerifyToken(tokenStr)
	if err != nil {
		return domain.AgentIdentity{}, err
	}

	agentID := claims.AgentID
	if agentID == "" {
		agentID = claims.Subject
	}
	if agentID == "" {
		return domain.AgentIdentity{}, fmt.Errorf("%w: agent id is missing", ErrInvalidToken)
	}

	trust, err := domain.ParseTrustLevel(claims.TrustLevel)
	if err != nil {
		return domain.AgentIdentity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return domain.AgentIdentity{
		AgentID:      agentID,
		TrustLevel:   trust,
		AllowedTools: claims.AllowedTools,
	}, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
