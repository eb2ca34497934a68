package utils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/utils"
)

func TestKeyedMutex(t *testing.T) {
	t.Parallel()

	var m utils.KeyedMutex[string]
	counters := map[string]*int{"a": new(int), "b": new(int)}
	wg := new(sync.WaitGroup)
	for i := 0; i < 50; i++ {
		for key, counter := range counters {
			wg.Add(1)
			go func(key string, counter *int) {
				defer wg.Done()
				unlock := m.Lock(key)
				defer unlock()
				*counter++
			}(key, counter)
		}
	}
	wg.Wait()
	require.Equal(t, 50, *counters["a"])
	require.Equal(t, 50, *counters["b"])
}
