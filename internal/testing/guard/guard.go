package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MILKROUND_TEST_MODE") == "" {
			_ = os.Setenv("MILKROUND_TEST_MODE", "1")
		}
	})
}
