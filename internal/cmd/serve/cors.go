package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsPolicy decides which browser origins may call the API. An empty
// configuration means any origin; the response always echoes the caller's
// origin rather than "*" so credentialed requests work.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCorsPolicy(originsCSV string) corsPolicy {
	p := corsPolicy{origins: map[string]struct{}{}}
	for _, part := range strings.Split(originsCSV, ",") {
		v := strings.TrimSpace(part)
		switch v {
		case "":
		case "*":
			p.allowAll = true
		default:
			p.origins[v] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.allowAll = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func corsMiddleware(originsCSV string) gin.HandlerFunc {
	policy := newCorsPolicy(originsCSV)
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin == "" {
			c.Next()
			return
		}
		if policy.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			if c.Request.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "300")
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
