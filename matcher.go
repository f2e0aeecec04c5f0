package flowguard

import (
	"net/http"
	"strings"
)

// requestKey derives the default endpoint key of a request: host + path,
// without a trailing slash.
func requestKey(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	return strings.TrimRight(host+req.URL.Path, "/")
}

// matchKey reports whether an endpoint key falls under a registered pattern.
//
// Supported patterns:
//   - "api.example.com/users/*" matches any key below that prefix
//   - "GET /users/*/shares" matches one segment in place of the star
//   - "/admin" matches every key starting with "/admin" (no wildcard)
func matchKey(key, pattern string) bool {
	key = strings.TrimRight(key, "/")
	pattern = strings.TrimRight(pattern, "/")
	if pattern == "" {
		return false
	}
	if globMatch(pattern, key) {
		return true
	}
	return !strings.Contains(pattern, "*") && strings.HasPrefix(key, pattern)
}

// globMatch performs simple glob matching where "*" matches any sequence of
// characters and a trailing "/*" matches everything below the prefix.
func globMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if value == prefix || strings.HasPrefix(value, prefix+"/") {
			return true
		}
	}

	return wildcardMatch(pattern, value)
}

// wildcardMatch handles * as matching any sequence of characters.
func wildcardMatch(pattern, str string) bool {
	for len(pattern) > 0 {
		if pattern[0] != '*' {
			if len(str) == 0 || pattern[0] != str[0] {
				return false
			}
			pattern, str = pattern[1:], str[1:]
			continue
		}

		pattern = pattern[1:]
		if len(pattern) == 0 {
			return true
		}
		for i := 0; i <= len(str); i++ {
			if wildcardMatch(pattern, str[i:]) {
				return true
			}
		}
		return false
	}

	return len(str) == 0
}
