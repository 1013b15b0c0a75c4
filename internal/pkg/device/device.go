// Package device classifies visitor user agents into the coarse device types
// the trigger heuristics care about: desktop pointer tracking vs mobile back
// gestures, and bots that should never get a session at all.
package device

import (
	_ "embed"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types
const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
	TypeBot     = "bot"
)

//go:embed devices.yml
var databaseFile []byte

type patternEntry struct {
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"`
}

type database struct {
	Bots    []patternEntry `yaml:"bots"`
	Tablets []patternEntry `yaml:"tablets"`
	Mobiles []patternEntry `yaml:"mobiles"`
}

// Compiled regex cache
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

type classifier struct {
	db    database
	cache *regexCache
}

var (
	instance *classifier
	once     sync.Once
)

func getClassifier() *classifier {
	once.Do(func() {
		instance = &classifier{
			cache: &regexCache{compiled: make(map[string]*pcre.Regexp)},
		}
		if err := yaml.Unmarshal(databaseFile, &instance.db); err != nil {
			// Leave the database empty; everything classifies as desktop
			instance.db = database{}
		}
	})
	return instance
}

func (c *classifier) matchesAny(entries []patternEntry, ua string) bool {
	for _, entry := range entries {
		regex, err := c.cache.get("(?i)" + entry.Regex)
		if err != nil {
			continue
		}
		if regex.MatchString(ua) {
			return true
		}
	}
	return false
}

// Classify returns the device type for a user agent string. Tablets are
// checked before mobiles because tablet user agents usually also carry mobile
// markers.
func Classify(userAgent string) string {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return TypeDesktop
	}

	c := getClassifier()
	switch {
	case c.matchesAny(c.db.Bots, ua):
		return TypeBot
	case c.matchesAny(c.db.Tablets, ua):
		return TypeTablet
	case c.matchesAny(c.db.Mobiles, ua):
		return TypeMobile
	default:
		return TypeDesktop
	}
}

// IsBot reports whether the user agent belongs to an automated client.
func IsBot(userAgent string) bool {
	return Classify(userAgent) == TypeBot
}
