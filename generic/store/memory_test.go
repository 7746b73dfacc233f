package store_test

import (
	"testing"

	"github.com/warp/achievement-engine/generic/store"
	"github.com/warp/achievement-engine/generic/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return store.NewMemory()
	})
}
