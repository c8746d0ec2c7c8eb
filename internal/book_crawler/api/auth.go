package api

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-API-Key"

// KeyAuth 用 bcrypt 哈希校验 X-API-Key。
// 校验通过的 key 按 SHA-256 摘要缓存，避免每个请求都做一次 bcrypt。
type KeyAuth struct {
	log    *zap.Logger
	hashes [][]byte

	mu       sync.RWMutex
	accepted map[[sha256.Size]byte]struct{}
}

func NewKeyAuth(log *zap.Logger, hashes []string) *KeyAuth {
	a := &KeyAuth{log: log, accepted: make(map[[sha256.Size]byte]struct{})}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	if len(a.hashes) == 0 {
		log.Warn("No API key hashes configured, every authenticated request will be rejected")
	}
	return a
}

// Valid key 是否与任一哈希匹配
func (a *KeyAuth) Valid(key string) bool {
	sum := sha256.Sum256([]byte(key))

	a.mu.RLock()
	_, ok := a.accepted[sum]
	a.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.accepted[sum] = struct{}{}
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// Middleware 缺少 key 返回 403，key 无效返回 401
func (a *KeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing API key"})
			return
		}
		if !a.Valid(key) {
			a.log.Warn("Invalid API key provided", zap.String("clientIp", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

// HashKey 生成可写入配置的 bcrypt 哈希
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
