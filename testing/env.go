// Package testing prepares the process environment for package tests.
// Import it for side effects:
//
//	import _ "github.com/khovattu/khovattu/testing"
package testing

import (
	"os"
	"sync"
)

// Defaults are applied to variables that are not already set.
var Defaults = map[string]string{
	"KHOVATTU_TEST_MODE": "1",
	"SESSION_SECRET":     "test-session-secret",
	"APP_TIMEZONE":       "Asia/Ho_Chi_Minh",
	"LOG_FORMAT":         "pretty",
	"LOG_LEVEL":          "error",
}

var once sync.Once

// Prepare applies Defaults once per process.
func Prepare() {
	once.Do(func() {
		for k, v := range Defaults {
			if _, ok := os.LookupEnv(k); !ok {
				_ = os.Setenv(k, v)
			}
		}
	})
}

func init() {
	Prepare()
}
