package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("HELMBOARD_TEST_MODE") == "" {
			_ = os.Setenv("HELMBOARD_TEST_MODE", "1")
		}
	})
}
