package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/form"
)

// Claims 令牌声明
// 自签令牌直接携带 role/department,外部 OIDC 令牌从 realm_access.roles 中取第一个可识别的角色
type Claims struct {
	Username    string `json:"preferred_username,omitempty"`
	Role        string `json:"role,omitempty"`
	Department  string `json:"department,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
	jwt.RegisteredClaims
}

// Principal 将声明转换为调用者身份
func (c *Claims) Principal() (form.Principal, error) {
	if c.Subject == "" {
		return form.Principal{}, errors.New("missing subject")
	}
	role := form.Role(c.Role)
	if !role.Valid() {
		role = ""
		for _, r := range c.RealmAccess.Roles {
			if form.Role(r).Valid() {
				role = form.Role(r)
				break
			}
		}
	}
	if role == "" {
		return form.Principal{}, fmt.Errorf("unknown role: %q", c.Role)
	}
	return form.Principal{ID: c.Subject, Role: role, Department: c.Department}, nil
}

// TokenValidator 令牌验证器
type TokenValidator struct {
	secret     []byte
	issuer     string
	jwksURL    string
	jwksCache  *sync.Map
	httpClient *http.Client
}

// NewTokenValidator 创建令牌验证器
func NewTokenValidator(cfg config.AuthConfig) *TokenValidator {
	return &TokenValidator{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		jwksURL:    cfg.JWKSURL,
		jwksCache:  &sync.Map{},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Issuer 返回 Issuer
func (v *TokenValidator) Issuer() string {
	return v.issuer
}

// ValidateToken 验证令牌并返回声明
func (v *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if v.jwksURL != "" {
		methods = []string{jwt.SigningMethodRS256.Alg()}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate 验证令牌并返回调用者身份
func (v *TokenValidator) Authenticate(tokenString string) (form.Principal, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return form.Principal{}, err
	}
	return claims.Principal()
}

func (v *TokenValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.jwksURL == "" {
		return v.secret, nil
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("missing kid in token header")
	}
	return v.GetPublicKey(kid)
}

// GetPublicKey 获取公钥 (从 JWKS 或缓存)
func (v *TokenValidator) GetPublicKey(kid string) (*rsa.PublicKey, error) {
	if cached, ok := v.jwksCache.Load(kid); ok {
		return cached.(*rsa.PublicKey), nil
	}

	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	for _, key := range jwks.Keys {
		if key.Kid != kid || key.Kty != "RSA" {
			continue
		}
		publicKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		v.jwksCache.Store(kid, publicKey)
		return publicKey, nil
	}

	return nil, fmt.Errorf("key not found in JWKS: %s", kid)
}

// parseRSAPublicKey 解析 RSA 公钥
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// GenerateToken 签发 HS256 令牌,供开发环境和测试使用
func GenerateToken(secret, issuer string, p form.Principal, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("principal id is required")
	}
	if !p.Role.Valid() {
		return "", fmt.Errorf("unknown role: %q", p.Role)
	}
	now := time.Now()
	claims := Claims{
		Username:   p.ID,
		Role:       string(p.Role),
		Department: p.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
